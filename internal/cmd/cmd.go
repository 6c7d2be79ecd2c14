// Package cmd is the simpledhcpd entry point.  It owns everything the
// original spec's §1 "Out of scope" section names as an external
// collaborator narrow interface: command-line parsing, daemonization,
// signal processing, and log-file setup.  The core protocol logic lives
// entirely in internal/dhcp.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
)

// configLoader re-reads and validates the config file at path against reg
// on every call to load, used both at startup and on a reload signal.
type configLoader struct {
	path string
	reg  *dhcp.Registry
}

// load reads, parses, and validates the config file.
func (c *configLoader) load() (conf *dhcp.Config, err error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", c.path, err)
	}

	conf, err = dhcp.LoadConfigFile(data, c.path, c.reg)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", c.path, err)
	}

	return conf, nil
}

// Main is the entry point of simpledhcpd. It returns the process exit code;
// the caller is expected to pass it to os.Exit.
func Main(ctx context.Context, args []string) (exitCode int) {
	cmdName := "simpledhcpd"

	opts, parseErr := parseOptions(cmdName, args)
	if code, needExit := processOptions(opts, parseErr); needExit {
		return code
	}

	logger := newBaseLogger(opts)

	logger.InfoContext(ctx, "starting simpledhcpd", "pid", os.Getpid(), "config", opts.confPath)

	reg := dhcp.NewRegistry()
	loader := &configLoader{path: opts.confPath, reg: reg}

	conf, err := loader.load()
	if err != nil {
		logger.ErrorContext(ctx, "loading configuration", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	if opts.logFile == "" && conf.LogFile != "" {
		opts.logFile = conf.LogFile
		logger = newBaseLogger(opts)
	}

	if opts.checkConfig {
		logger.InfoContext(ctx, "configuration is valid")

		return osutil.ExitCodeSuccess
	}

	if opts.daemonMode {
		// Actual process detachment (fork/setsid) is handled by the outer
		// process supervisor (systemd, a service wrapper, etc.), per the
		// original spec's §1 "Out of scope"; simpledhcpd itself only
		// records that it was launched as a daemon.
		logger.InfoContext(ctx, "running in daemon mode")
	}

	srv, err := dhcp.NewServer(dhcp.ServerConfig{
		Logger: logger,
		Config: conf,
	})
	if err != nil {
		logger.ErrorContext(ctx, "building server", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	if err = srv.LoadLeaseFile(); err != nil {
		logger.ErrorContext(ctx, "loading lease file", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	if err = srv.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "starting server", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	logger.InfoContext(ctx, "simpledhcpd started", "listeners", len(conf.Listen))

	sigHdlr := newSignalHandler(logger.With(slogutil.KeyPrefix, "sigproc"), srv, loader, opts.pidFile)

	status := sigHdlr.handle(ctx)

	return int(status)
}
