package cmd

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/google/renameio/v2/maybe"
	"github.com/simpledhcpd/simpledhcpd/internal/dhcp"
)

// defaultShutdownTimeout bounds how long signalHandler waits for
// Server.Shutdown to stop the serve loops, per the original spec's §5
// "Cancellation & timeouts": shutdown is bounded, not unbounded.
const defaultShutdownTimeout = 5 * time.Second

// signalHandler processes OS signals and shuts down or reloads the running
// server, following the teacher's internal/next/cmd/signal.go.
type signalHandler struct {
	logger  *slog.Logger
	srv     *dhcp.Server
	confMgr *configLoader
	signal  chan os.Signal
	pidFile string
}

// newSignalHandler returns a signalHandler wired to srv and confMgr. logger
// must not be nil.
func newSignalHandler(logger *slog.Logger, srv *dhcp.Server, confMgr *configLoader, pidFile string) (h *signalHandler) {
	h = &signalHandler{
		logger:  logger,
		srv:     srv,
		confMgr: confMgr,
		signal:  make(chan os.Signal, 1),
		pidFile: pidFile,
	}

	notifier := osutil.DefaultSignalNotifier{}
	osutil.NotifyShutdownSignal(notifier, h.signal)
	osutil.NotifyReconfigureSignal(notifier, h.signal)

	return h
}

// handle blocks until a termination or reconfiguration signal arrives. On
// shutdown it stops the server and returns the resulting exit code; on
// reconfiguration it reloads the config in place and keeps waiting.
func (h *signalHandler) handle(ctx context.Context) (status osutil.ExitCode) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	h.writePID(ctx)

	for sig := range h.signal {
		h.logger.InfoContext(ctx, "received signal", "signal", sig)

		if osutil.IsReconfigureSignal(sig) {
			if err := h.reconfigure(ctx); err != nil {
				h.logger.ErrorContext(ctx, "reloading configuration", slogutil.KeyError, err)
			}

			continue
		}

		if osutil.IsShutdownSignal(sig) {
			status = h.shutdown(ctx)
			h.removePID(ctx)

			return status
		}
	}

	return osutil.ExitCodeSuccess
}

// reconfigure rereads the configuration file and swaps it into the running
// server, per the original spec's §4.6 "Reload".
func (h *signalHandler) reconfigure(ctx context.Context) (err error) {
	h.logger.InfoContext(ctx, "reloading configuration", "path", h.confMgr.path)

	newConf, err := h.confMgr.load()
	if err != nil {
		return err
	}

	if err = h.srv.Reload(newConf); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "reloaded configuration")

	return nil
}

// shutdown gracefully stops the server within defaultShutdownTimeout.
func (h *signalHandler) shutdown(ctx context.Context) (status osutil.ExitCode) {
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	h.logger.InfoContext(ctx, "shutting down")

	if err := h.srv.Shutdown(ctx); err != nil {
		h.logger.ErrorContext(ctx, "shutting down server", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}

// writePID writes the process PID to h.pidFile, if configured.
func (h *signalHandler) writePID(ctx context.Context) {
	if h.pidFile == "" {
		return
	}

	data := strconv.AppendInt(nil, int64(os.Getpid()), 10)
	data = append(data, '\n')

	if err := maybe.WriteFile(h.pidFile, data, 0o644); err != nil {
		h.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)
	}
}

// removePID removes h.pidFile, if configured.
func (h *signalHandler) removePID(ctx context.Context) {
	if h.pidFile == "" {
		return
	}

	if err := os.Remove(h.pidFile); err != nil && !os.IsNotExist(err) {
		h.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)
	}
}
