package main

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// newPromLogger builds the leveled logfmt logger used everywhere in this
// exporter. Unknown level names fall back to info.
func newPromLogger(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var opt level.Option
	switch levelName {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}
