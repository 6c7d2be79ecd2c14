package dhcp

import (
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// ErrUnsupportedFormat is returned by the config loader for a file
// extension no reader is wired for. See SPEC_FULL.md's AMBIENT STACK
// section and DESIGN.md for why INI is recognized but rejected rather than
// parsed: no repo in the example corpus wires an INI-reading dependency.
const ErrUnsupportedFormat errors.Error = "dhcp: unsupported config format"

// ListenAddress is one address/port the server loop binds a UDP socket to.
type ListenAddress struct {
	Interface string
	IP        IPAddress
	Port      int
}

// SecurityConfig is the typed form of the original spec's §6 "security.*"
// config keys.
type SecurityConfig struct {
	TrustedInterfaces []string
	MACRules          []MACRule
	IPRules           []IPRule
	RateLimits        []NamedRateRule
	Option82          Option82Policy
	Auth              AuthPolicy

	SnoopingEnabled  bool
	MACDefaultAction FilterAction
}

// NamedRateRule pairs a RateRule with the identifier kind ("mac", "ip", or
// "relay") it applies to.
type NamedRateRule struct {
	Identifier string
	Rule       RateRule
}

// Config is the immutable, validated snapshot every component of the
// server consumes, per the original spec's §4.6. It is produced by an
// external loader (see config_loader.go) from JSON or YAML; the core never
// parses a config file's string form itself.
type Config struct {
	Listen []ListenAddress

	Subnets []*Subnet

	GlobalOptions Layer

	Security SecurityConfig

	LeaseFilePath string
	LogFile       string
	LogLevel      string

	ConflictStrategy ConflictStrategy

	SweepInterval  time.Duration
	AutoSaveInterval time.Duration

	DeclineCooldown time.Duration
	MaxLeases       int
}

// Validate checks the invariants the original spec's §4.6 names: at least
// one listen address, at least one subnet, subnet invariants, global
// option constraints, and reservations lying inside their subnet without
// colliding with exclusions (the latter two already checked per-subnet by
// Subnet.Validate).
func (c *Config) Validate(registry *Registry) (err error) {
	var errs []error

	if len(c.Listen) == 0 {
		errs = append(errs, fmt.Errorf("listen: %w", errors.ErrEmptyValue))
	}

	if len(c.Subnets) == 0 {
		errs = append(errs, fmt.Errorf("subnets: %w", errors.ErrEmptyValue))
	}

	for _, s := range c.Subnets {
		errs = validate.Append(errs, "subnets."+s.Name, s)
	}

	if registry != nil {
		for code, value := range c.GlobalOptions {
			if optErr := registry.Validate(code, value, RequestContext{}); optErr != nil {
				errs = append(errs, optErr)
			}
		}
	}

	if c.SweepInterval <= 0 {
		errs = append(errs, errSweepIntervalNonPositive)
	}

	return errors.Join(errs...)
}

const errSweepIntervalNonPositive errors.Error = "dhcp: sweep_interval_secs must be positive"

// DefaultSweepInterval is the expiration-sweep period when none is
// configured, per the original spec's §4.3 "Expiration sweep" default.
const DefaultSweepInterval = 60 * time.Second
