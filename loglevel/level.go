// Package loglevel configures go-kit level filtering from flags.
package loglevel

import (
	"strings"

	log "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// NewLevelFilterFromString filter the log level using the string "DEBUG|INFO|WARN|ERROR",
// unknown strings allow everything.
func NewLevelFilterFromString(next log.Logger, ls string) log.Logger {
	return level.NewFilter(next, Option(ls))
}

// Option returns the level.Option matching ls.
func Option(ls string) level.Option {
	switch strings.ToLower(strings.TrimSpace(ls)) {
	case "debug":
		return level.AllowDebug()
	case "info":
		return level.AllowInfo()
	case "warn", "warning":
		return level.AllowWarn()
	case "error", "err":
		return level.AllowError()
	case "none", "off":
		return level.AllowNone()
	}

	return level.AllowAll()
}
