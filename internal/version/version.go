package version

// Version of the xywebrtc binary, set at release time with
//
//	go build -ldflags="-X 'github.com/monkey1992/XyWebRTC/internal/version.Version=v1.0.0'"
var Version = "dev"
