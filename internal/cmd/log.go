package cmd

import (
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// newBaseLogger builds the process-wide structured logger from the parsed
// command-line options, following the way the teacher's
// internal/home/log.go builds its slog.Logger from logSettings: a
// slogutil.Config selecting level and output format, never a package-level
// logging singleton.
func newBaseLogger(opts *options) (logger *slog.Logger) {
	lvl := slog.LevelInfo
	if opts.verbose {
		lvl = slog.LevelDebug
	}

	cfg := &slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	}

	var openErr error

	dest := opts.logFile
	switch dest {
	case "", "stdout":
		cfg.Output = os.Stdout
	case "stderr":
		cfg.Output = os.Stderr
	default:
		f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			// Fall back to stdout and report the failure once the logger
			// exists.
			cfg.Output = os.Stdout
			openErr = err
		} else {
			cfg.Output = f
		}
	}

	logger = slogutil.New(cfg)
	if openErr != nil {
		logger.Error("opening log file, using stdout", "path", dest, slogutil.KeyError, openErr)
	}

	return logger
}
