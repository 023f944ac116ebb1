package main

import (
	"github.com/monkey1992/XyWebRTC/cmd"
	"github.com/monkey1992/XyWebRTC/internal/logging"
)

func main() {
	cmd.Execute(logging.Init())
}
