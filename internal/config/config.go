// Package config loads and validates the optional .smoke YAML file.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the working directory.
const FileName = ".smoke"

// Default values for the harness.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultGrace            = time.Second
	DefaultMaxOutput        = 1 << 20 // 1 MB
	DefaultCount            = 4
	DefaultOversizedPayload = 16384
	DefaultResolveCommand   = "sudo arping {device_ip} -i {bridge} -c 1"
)

// Self-echo policies: what an echo request to the subject's own address
// is expected to produce.
const (
	SelfEchoOff     = ""
	SelfEchoReply   = "reply"
	SelfEchoTimeout = "timeout"
)

// DefaultNetwork matches the addresses the stack examples are built with.
var DefaultNetwork = Network{
	DeviceMAC:  "06:11:22:33:44:55",
	DeviceIP:   "10.255.255.102",
	GatewayIP:  "10.255.255.101",
	UnknownIP:  "10.255.255.103",
	ExternalIP: "8.8.8.8",
	Bridge:     "br0",
}

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// Config holds the parsed .smoke configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	BuildDir            string   `yaml:"build_dir"`
	RawTimeout          string   `yaml:"timeout"` // e.g. "10s"
	RawGrace            string   `yaml:"grace"`   // e.g. "1s"
	RawMaxOutput        int      `yaml:"max_output"`
	RawCount            int      `yaml:"count"`
	RawOversizedPayload int      `yaml:"oversized_payload"`
	SelfEcho            string   `yaml:"self_echo"`
	Network             Network  `yaml:"network"`
	ResolveCommand      string   `yaml:"resolve_command"`
	Scenarios           []string `yaml:"scenarios"`
	RawAttempts         int      `yaml:"attempts"`
	RawRetryDelay       string   `yaml:"retry_delay"`
}

// Network holds the addresses the scenarios probe.
type Network struct {
	DeviceMAC  string `yaml:"device_mac"`
	DeviceIP   string `yaml:"device_ip"`
	GatewayIP  string `yaml:"gateway_ip"`
	UnknownIP  string `yaml:"unknown_ip"`
	ExternalIP string `yaml:"external_ip"`
	Bridge     string `yaml:"bridge"`
}

// Timeout returns the per-probe timeout or the default.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RawTimeout, DefaultTimeout)
}

// Grace returns the subject startup grace period or the default.
func (c *Config) Grace() time.Duration {
	return parseDuration(c.RawGrace, DefaultGrace)
}

// RetryDelay returns the pause between scenario attempts.
func (c *Config) RetryDelay() time.Duration {
	return parseDuration(c.RawRetryDelay, time.Second)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Count returns the number of attempts each probe makes.
func (c *Config) Count() int {
	if c.RawCount > 0 {
		return c.RawCount
	}
	return DefaultCount
}

// OversizedPayload returns the echo payload size used by the size-limit
// regression scenario.
func (c *Config) OversizedPayload() int {
	if c.RawOversizedPayload > 0 {
		return c.RawOversizedPayload
	}
	return DefaultOversizedPayload
}

// Attempts returns how many times a failing scenario is run. 1 means no retry.
func (c *Config) Attempts() int {
	if c.RawAttempts > 0 {
		return c.RawAttempts
	}
	return 1
}

// Net returns the network settings with defaults filled in.
func (c *Config) Net() Network {
	n := c.Network
	d := DefaultNetwork
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&n.DeviceMAC, d.DeviceMAC)
	fill(&n.DeviceIP, d.DeviceIP)
	fill(&n.GatewayIP, d.GatewayIP)
	fill(&n.UnknownIP, d.UnknownIP)
	fill(&n.ExternalIP, d.ExternalIP)
	fill(&n.Bridge, d.Bridge)
	return n
}

// ResolveArgv returns the external address-resolution command as an argv,
// with {device_ip}, {device_mac} and {bridge} substituted.
func (c *Config) ResolveArgv() ([]string, error) {
	raw := c.ResolveCommand
	if raw == "" {
		raw = DefaultResolveCommand
	}
	n := c.Net()
	raw = strings.NewReplacer(
		"{device_ip}", n.DeviceIP,
		"{device_mac}", n.DeviceMAC,
		"{bridge}", n.Bridge,
	).Replace(raw)
	argv, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing resolve_command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("resolve_command is empty")
	}
	return argv, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	for _, d := range []struct{ name, raw string }{
		{"timeout", c.RawTimeout},
		{"grace", c.RawGrace},
		{"retry_delay", c.RawRetryDelay},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", d.name, d.raw)
		}
	}

	n := c.Net()
	if !macPattern.MatchString(n.DeviceMAC) {
		return fmt.Errorf("network.device_mac: invalid hardware address %q", n.DeviceMAC)
	}
	for _, a := range []struct{ name, addr string }{
		{"network.device_ip", n.DeviceIP},
		{"network.gateway_ip", n.GatewayIP},
		{"network.unknown_ip", n.UnknownIP},
		{"network.external_ip", n.ExternalIP},
	} {
		addr, err := netip.ParseAddr(a.addr)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%s: invalid IPv4 address %q", a.name, a.addr)
		}
	}

	switch c.SelfEcho {
	case SelfEchoOff, SelfEchoReply, SelfEchoTimeout:
	default:
		return fmt.Errorf("self_echo: must be %q or %q, got %q", SelfEchoReply, SelfEchoTimeout, c.SelfEcho)
	}

	if _, err := c.ResolveArgv(); err != nil {
		return err
	}
	return nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// LoadResult holds the parsed config and where it came from.
type LoadResult struct {
	Config *Config
	Path   string // the file that was read; empty when defaults are used
	Root   string // directory containing the file; falls back to workspace
}

// Load reads the nearest .smoke file at or above workspace. If none
// exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	dir, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}

	path, err := findFile(dir)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: dir}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	// A relative build_dir is relative to the file, not to the caller.
	if cfg.BuildDir != "" && !filepath.IsAbs(cfg.BuildDir) {
		cfg.BuildDir = filepath.Join(filepath.Dir(path), cfg.BuildDir)
	}
	return &LoadResult{Config: cfg, Path: path, Root: filepath.Dir(path)}, nil
}

// findFile walks upward from dir looking for FileName.
func findFile(dir string) (string, error) {
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
