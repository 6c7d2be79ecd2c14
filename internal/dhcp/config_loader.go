package dhcp

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// decodeHex decodes a hex-encoded option value string, as used for
// global_options/option_overrides maps in the config file.
func decodeHex(s string) (b []byte, err error) {
	return hex.DecodeString(s)
}

// rawConfig is the wire shape of a config file, decoded by either the JSON
// or YAML reader before being converted into the typed, validated Config.
// Field names mirror the original spec's §6 "Config file" table.
type rawConfig struct {
	Listen []rawListenAddress `json:"listen" yaml:"listen"`
	Subnets []rawSubnet `json:"subnets" yaml:"subnets"`
	GlobalOptions map[string]string `json:"global_options" yaml:"global_options"`

	Security rawSecurity `json:"security" yaml:"security"`

	LeaseFile string `json:"lease_file" yaml:"lease_file"`
	LogFile   string `json:"log_file" yaml:"log_file"`
	LogLevel  string `json:"log_level" yaml:"log_level"`

	ConflictStrategy string `json:"conflict_strategy" yaml:"conflict_strategy"`

	SweepIntervalSecs  int `json:"sweep_interval_secs" yaml:"sweep_interval_secs"`
	AutoSaveSecs       int `json:"auto_save_secs" yaml:"auto_save_secs"`
}

type rawListenAddress struct {
	Interface string `json:"interface" yaml:"interface"`
	Address   string `json:"address" yaml:"address"`
	Port      int    `json:"port" yaml:"port"`
}

type rawExclusion struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type rawReservation struct {
	MAC         string `json:"mac" yaml:"mac"`
	IP          string `json:"ip" yaml:"ip"`
	Hostname    string `json:"hostname" yaml:"hostname"`
	Description string `json:"description" yaml:"description"`
	VendorClass string `json:"vendor_class" yaml:"vendor_class"`
	LeaseSecs   int    `json:"lease_time" yaml:"lease_time"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

type rawSubnet struct {
	Name             string            `json:"name" yaml:"name"`
	Network          string            `json:"network" yaml:"network"`
	PrefixLength     int               `json:"prefix_length" yaml:"prefix_length"`
	RangeStart       string            `json:"range_start" yaml:"range_start"`
	RangeEnd         string            `json:"range_end" yaml:"range_end"`
	Gateway          string            `json:"gateway" yaml:"gateway"`
	DomainName       string            `json:"domain_name" yaml:"domain_name"`
	DNSServers       []string          `json:"dns_servers" yaml:"dns_servers"`
	Exclusions       []rawExclusion    `json:"exclusions" yaml:"exclusions"`
	Reservations     []rawReservation  `json:"reservations" yaml:"reservations"`
	OptionOverrides  map[string]string `json:"option_overrides" yaml:"option_overrides"`
	LeaseSecs        int               `json:"lease_time" yaml:"lease_time"`
	MaxLeaseSecs     int               `json:"max_lease_time" yaml:"max_lease_time"`
}

type rawSecurity struct {
	DHCPSnooping      bool              `json:"dhcp_snooping" yaml:"dhcp_snooping"`
	TrustedInterfaces []string          `json:"trusted_interfaces" yaml:"trusted_interfaces"`
	MACFilters        []rawMACFilter    `json:"mac_filters" yaml:"mac_filters"`
	IPFilters         []rawIPFilter     `json:"ip_filters" yaml:"ip_filters"`
	RateLimits        []rawRateLimit    `json:"rate_limits" yaml:"rate_limits"`
	Option82          rawOption82       `json:"option_82" yaml:"option_82"`
	Auth              rawAuth           `json:"auth" yaml:"auth"`
}

type rawMACFilter struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Action  string `json:"action" yaml:"action"`
	Reason  string `json:"reason" yaml:"reason"`
	Regex   bool   `json:"regex" yaml:"regex"`
}

type rawIPFilter struct {
	Network string `json:"network" yaml:"network"`
	Prefix  int    `json:"prefix" yaml:"prefix"`
	Action  string `json:"action" yaml:"action"`
}

type rawRateLimit struct {
	Identifier  string `json:"identifier" yaml:"identifier"`
	Limit       int    `json:"limit" yaml:"limit"`
	WindowSecs  int    `json:"window_secs" yaml:"window_secs"`
	BlockSecs   int    `json:"block_window_secs" yaml:"block_window_secs"`
}

type rawOption82 struct {
	Required          bool     `json:"required" yaml:"required"`
	TrustedCircuitIDs []string `json:"trusted_circuit_ids" yaml:"trusted_circuit_ids"`
}

type rawAuth struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Key     string `json:"key" yaml:"key"`
}

// LoadConfigFile reads and decodes the config file at path, selecting the
// reader by its extension: .json, .yaml/.yml. .ini is recognized and
// rejected with ErrUnsupportedFormat rather than parsed, per SPEC_FULL.md's
// AMBIENT STACK note.
func LoadConfigFile(data []byte, path string, registry *Registry) (conf *Config, err error) {
	var raw rawConfig

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if jsonErr := json.Unmarshal(data, &raw); jsonErr != nil {
			return nil, fmt.Errorf("parsing json config: %w", jsonErr)
		}
	case ".yaml", ".yml":
		if yamlErr := yaml.Unmarshal(data, &raw); yamlErr != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", yamlErr)
		}
	case ".ini":
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%s: unrecognized extension %q: %w", path, ext, ErrUnsupportedFormat)
	}

	conf, err = raw.toConfig()
	if err != nil {
		return nil, fmt.Errorf("converting config: %w", err)
	}

	if validateErr := conf.Validate(registry); validateErr != nil {
		return nil, validateErr
	}

	return conf, nil
}

func (raw *rawConfig) toConfig() (conf *Config, err error) {
	conf = &Config{
		LeaseFilePath:    raw.LeaseFile,
		LogFile:          raw.LogFile,
		LogLevel:         raw.LogLevel,
		ConflictStrategy: parseConflictStrategy(raw.ConflictStrategy),
		SweepInterval:    secsOrDefault(raw.SweepIntervalSecs, DefaultSweepInterval),
		AutoSaveInterval: time.Duration(raw.AutoSaveSecs) * time.Second,
	}

	for _, l := range raw.Listen {
		ip, ok := ParseIP(l.Address)
		if !ok {
			return nil, fmt.Errorf("listen address %q: invalid ip", l.Address)
		}

		port := l.Port
		if port == 0 {
			port = ServerPort
		}

		conf.Listen = append(conf.Listen, ListenAddress{Interface: l.Interface, IP: ip, Port: port})
	}

	conf.GlobalOptions = make(Layer, len(raw.GlobalOptions))
	for k, v := range raw.GlobalOptions {
		code, value, parseErr := parseOptionField(k, v)
		if parseErr != nil {
			return nil, parseErr
		}

		conf.GlobalOptions[code] = value
	}

	for _, rs := range raw.Subnets {
		subnet, subnetErr := rs.toSubnet()
		if subnetErr != nil {
			return nil, subnetErr
		}

		conf.Subnets = append(conf.Subnets, subnet)
	}

	conf.Security, err = raw.Security.toSecurityConfig()
	if err != nil {
		return nil, err
	}

	return conf, nil
}

func (rs *rawSubnet) toSubnet() (subnet *Subnet, err error) {
	network, ok := ParseIP(rs.Network)
	if !ok {
		return nil, fmt.Errorf("subnet %s: invalid network %q", rs.Name, rs.Network)
	}

	rangeStart, ok := ParseIP(rs.RangeStart)
	if !ok {
		return nil, fmt.Errorf("subnet %s: invalid range_start %q", rs.Name, rs.RangeStart)
	}

	rangeEnd, ok := ParseIP(rs.RangeEnd)
	if !ok {
		return nil, fmt.Errorf("subnet %s: invalid range_end %q", rs.Name, rs.RangeEnd)
	}

	var gateway IPAddress
	if rs.Gateway != "" {
		gateway, ok = ParseIP(rs.Gateway)
		if !ok {
			return nil, fmt.Errorf("subnet %s: invalid gateway %q", rs.Name, rs.Gateway)
		}
	}

	dnsServers := make([]IPAddress, 0, len(rs.DNSServers))
	for _, s := range rs.DNSServers {
		ip, parsed := ParseIP(s)
		if !parsed {
			return nil, fmt.Errorf("subnet %s: invalid dns server %q", rs.Name, s)
		}

		dnsServers = append(dnsServers, ip)
	}

	exclusions := make([]Exclusion, 0, len(rs.Exclusions))
	for _, e := range rs.Exclusions {
		from, fromOK := ParseIP(e.From)
		to, toOK := ParseIP(e.To)
		if !fromOK || !toOK {
			return nil, fmt.Errorf("subnet %s: invalid exclusion %s-%s", rs.Name, e.From, e.To)
		}

		exclusions = append(exclusions, Exclusion{From: from, To: to})
	}

	reservations := make(map[MacAddress]StaticReservation, len(rs.Reservations))
	for _, r := range rs.Reservations {
		mac, macErr := ParseMAC(r.MAC)
		if macErr != nil {
			return nil, fmt.Errorf("subnet %s: reservation mac %q: %w", rs.Name, r.MAC, macErr)
		}

		ip, ipOK := ParseIP(r.IP)
		if !ipOK {
			return nil, fmt.Errorf("subnet %s: reservation ip %q invalid", rs.Name, r.IP)
		}

		reservations[mac] = StaticReservation{
			MAC:         mac,
			IP:          ip,
			Hostname:    r.Hostname,
			Description: r.Description,
			VendorClass: r.VendorClass,
			LeaseTime:   time.Duration(r.LeaseSecs) * time.Second,
			Enabled:     r.Enabled,
		}
	}

	overrides := make(Layer, len(rs.OptionOverrides))
	for k, v := range rs.OptionOverrides {
		code, value, parseErr := parseOptionField(k, v)
		if parseErr != nil {
			return nil, parseErr
		}

		overrides[code] = value
	}

	return &Subnet{
		Name:            rs.Name,
		Network:         network,
		PrefixLength:    rs.PrefixLength,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		Gateway:         gateway,
		DomainName:      rs.DomainName,
		DNSServers:      dnsServers,
		Exclusions:      exclusions,
		Reservations:    reservations,
		OptionOverrides: overrides,
		LeaseTime:       time.Duration(rs.LeaseSecs) * time.Second,
		MaxLeaseTime:    time.Duration(rs.MaxLeaseSecs) * time.Second,
	}, nil
}

func (rsec *rawSecurity) toSecurityConfig() (sec SecurityConfig, err error) {
	sec.SnoopingEnabled = rsec.DHCPSnooping
	sec.TrustedInterfaces = rsec.TrustedInterfaces

	for _, f := range rsec.MACFilters {
		sec.MACRules = append(sec.MACRules, MACRule{
			Pattern: f.Pattern,
			Action:  parseFilterAction(f.Action),
			Reason:  f.Reason,
			Regex:   f.Regex,
		})
	}

	for _, f := range rsec.IPFilters {
		network, ok := ParseIP(f.Network)
		if !ok {
			return SecurityConfig{}, fmt.Errorf("ip filter network %q invalid", f.Network)
		}

		sec.IPRules = append(sec.IPRules, IPRule{
			Network: network,
			Mask:    MaskFromPrefix(f.Prefix),
			Action:  parseFilterAction(f.Action),
		})
	}

	for _, rl := range rsec.RateLimits {
		sec.RateLimits = append(sec.RateLimits, NamedRateRule{
			Identifier: rl.Identifier,
			Rule: RateRule{
				Limit:       rl.Limit,
				Window:      time.Duration(rl.WindowSecs) * time.Second,
				BlockWindow: time.Duration(rl.BlockSecs) * time.Second,
			},
		})
	}

	sec.Option82 = Option82Policy{
		Required:          rsec.Option82.Required,
		TrustedCircuitIDs: toSet(rsec.Option82.TrustedCircuitIDs),
	}

	sec.Auth = AuthPolicy{
		Enabled:   rsec.Auth.Enabled,
		SharedKey: []byte(rsec.Auth.Key),
	}

	return sec, nil
}

func toSet(items []string) (set map[string]bool) {
	if len(items) == 0 {
		return nil
	}

	set = make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}

	return set
}

func parseFilterAction(s string) (action FilterAction) {
	if strings.EqualFold(s, "deny") {
		return ActionDeny
	}

	return ActionAllow
}

func parseConflictStrategy(s string) (strategy ConflictStrategy) {
	switch strings.ToLower(s) {
	case "replace":
		return ConflictReplace
	case "extend":
		return ConflictExtend
	case "negotiate":
		return ConflictNegotiate
	default:
		return ConflictReject
	}
}

func secsOrDefault(secs int, def time.Duration) (d time.Duration) {
	if secs <= 0 {
		return def
	}

	return time.Duration(secs) * time.Second
}

// parseOptionField parses a numeric option-code string key paired with a
// hex-encoded value string, as used for global_options/option_overrides
// maps in the config file. Option names are not accepted as keys.
func parseOptionField(key, hexValue string) (code uint8, value []byte, err error) {
	var codeNum int
	_, scanErr := fmt.Sscanf(key, "%d", &codeNum)
	if scanErr != nil || codeNum < 0 || codeNum > 255 {
		return 0, nil, fmt.Errorf("option key %q: must be a numeric option code", key)
	}

	value, err = decodeHex(hexValue)
	if err != nil {
		return 0, nil, fmt.Errorf("option %d value %q: %w", codeNum, hexValue, err)
	}

	return uint8(codeNum), value, nil
}
