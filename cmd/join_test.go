package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectFeedback(t *testing.T) {
	tests := []struct {
		name     string
		headless bool
		tty      bool
		want     feedback
	}{
		{"status view owns the terminal", false, true, feedbackStatus},
		{"headless on a terminal", true, true, feedbackSpinner},
		{"headless into a pipe", true, false, feedbackLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connectFeedback(tt.headless, tt.tty))
		})
	}
}
