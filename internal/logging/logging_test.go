package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name      string
		logsDir   string
		component string
		want      string
	}{
		{
			name:      "basic path",
			logsDir:   "trackerlogs",
			component: "tracker",
			want:      filepath.Join("trackerlogs", "tracker.20260212_213836.log"),
		},
		{
			name:      "relative path with dot",
			logsDir:   "./trackerlogs",
			component: "tracker",
			want:      filepath.Join(".", "trackerlogs", "tracker.20260212_213836.log"),
		},
		{
			name:      "absolute path",
			logsDir:   filepath.Join("/var", "log", "tracker"),
			component: "tracker",
			want:      filepath.Join("/var", "log", "tracker", "tracker.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, tt.component, sessionStart))
		})
	}
}
