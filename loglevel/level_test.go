package loglevel

import (
	"bytes"
	"strings"
	"testing"

	log "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestNewLevelFilterFromString(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"DEBUG", []string{"debug", "info", "warn", "error"}},
		{"info", []string{"info", "warn", "error"}},
		{"Warning", []string{"warn", "error"}},
		{"ERROR", []string{"error"}},
		{"off", nil},
		{"whatever", []string{"debug", "info", "warn", "error"}},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLevelFilterFromString(log.NewLogfmtLogger(&buf), tt.level)

			level.Debug(logger).Log("msg", "debug")
			level.Info(logger).Log("msg", "info")
			level.Warn(logger).Log("msg", "warn")
			level.Error(logger).Log("msg", "error")

			var got []string
			for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
				if line == "" {
					continue
				}
				got = append(got, strings.TrimPrefix(line[strings.Index(line, "msg="):], "msg="))
			}
			require.Equal(t, tt.want, got)
		})
	}
}
