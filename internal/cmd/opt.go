package cmd

import (
	"flag"

	"github.com/AdguardTeam/golibs/osutil"
)

// options contains all command-line options for the simpledhcpd binary,
// mirroring the "CLI surface consumed from the external collaborator" named
// in the original spec's §6: {config_path, log_file_override?, verbosity,
// daemon_mode?, pid_file?}.
type options struct {
	// confPath is the path to the configuration file.
	confPath string

	// logFile overrides the config file's log_file setting.  Special
	// values: "stdout" (the default) and "stderr".
	logFile string

	// pidFile is the path to the file where to store the PID, if any.
	pidFile string

	// daemonMode, if true, is recorded and logged at startup; the process
	// does not detach itself, which is left to the process supervisor.
	daemonMode bool

	// checkConfig, if true, validates the configuration file and exits
	// without starting the server.
	checkConfig bool

	// verbose, if true, enables debug-level logging.
	verbose bool

	// help, if true, prints the usage message and exits.
	help bool
}

// parseOptions parses the command-line arguments for simpledhcpd.
func parseOptions(cmdName string, args []string) (opts *options, err error) {
	flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)

	opts = &options{}
	flags.StringVar(&opts.confPath, "config", "simpledhcpd.yaml", "Path to the config file.")
	flags.StringVar(&opts.confPath, "c", "simpledhcpd.yaml", "Path to the config file.")
	flags.StringVar(&opts.logFile, "logfile", "", `Path to log file, or "stdout"/"stderr". Overrides log_file in the config.`)
	flags.StringVar(&opts.pidFile, "pidfile", "", "Path to the file where to store the PID.")
	flags.BoolVar(&opts.daemonMode, "daemon", false, "Run in daemon mode (logged only; detaching is left to the process supervisor).")
	flags.BoolVar(&opts.checkConfig, "check-config", false, "Validate the configuration file and quit.")
	flags.BoolVar(&opts.verbose, "verbose", false, "Enable verbose (debug) logging.")
	flags.BoolVar(&opts.verbose, "v", false, "Enable verbose (debug) logging.")
	flags.BoolVar(&opts.help, "help", false, "Print this help message and quit.")
	flags.BoolVar(&opts.help, "h", false, "Print this help message and quit.")

	flags.Usage = func() { flags.PrintDefaults() }

	err = flags.Parse(args)
	if err != nil {
		return nil, err
	}

	return opts, nil
}

// processOptions decides whether simpledhcpd should exit immediately
// because of the parsed options, before touching the network or the
// lease store.
func processOptions(opts *options, flagErr error) (exitCode int, needExit bool) {
	if flagErr != nil {
		return osutil.ExitCodeArgumentError, true
	}

	if opts.help {
		return osutil.ExitCodeSuccess, true
	}

	return 0, false
}
