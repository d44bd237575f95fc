// Package config handles apreport configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/apreport/internal/apstats"
	"github.com/nugget/apreport/internal/report"
)

// DefaultCommand is the controller command whose output is parsed.
const DefaultCommand = "show ap ethernet statistics"

// DefaultReportPath matches the file name the report has always used.
const DefaultReportPath = "ap_ethernet_statistics.xlsx"

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./apreport.yaml, ~/.config/apreport/config.yaml, /etc/apreport/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"apreport.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "apreport", "config.yaml"))
	}

	paths = append(paths, "/etc/apreport/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all apreport configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	// Command is run on every controller.
	Command string `yaml:"command"`

	Parser ParserConfig `yaml:"parser"`
	Report ReportConfig `yaml:"report"`
	SSH    SSHConfig    `yaml:"ssh"`

	// WLC is the controller used by the single-controller report.
	WLC ControllerConfig `yaml:"wlc"`

	// Controllers are queried over SSH by the fleet report, followed by
	// the entries of InventoryFile.
	Controllers   []ControllerConfig `yaml:"controllers"`
	InventoryFile string             `yaml:"inventory_file"`

	DNAC DNACConfig `yaml:"dnac"`
}

// ParserConfig selects the output layout.
type ParserConfig struct {
	// Layout is "positional" (default) or "interface-rows".
	Layout string `yaml:"layout"`
}

// ReportConfig defines where the report is written.
type ReportConfig struct {
	Path string `yaml:"path"`
	// Format overrides the format inferred from Path's extension.
	Format string `yaml:"format"`
}

// SSHConfig holds direct-session settings shared by every controller.
type SSHConfig struct {
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	// Username and Password are the default credentials for controllers
	// that do not carry their own.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// KnownHosts is an OpenSSH known_hosts file. Empty accepts any host
	// key, which is what most WLC automation does in practice.
	KnownHosts string `yaml:"known_hosts"`
	// Concurrency bounds parallel sessions. 1 (default) is sequential.
	Concurrency int `yaml:"concurrency"`
}

// ControllerConfig is one WLC reached over SSH.
type ControllerConfig struct {
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether an address was provided.
func (c ControllerConfig) Configured() bool {
	return c.Address != ""
}

// DNACConfig defines Cisco DNA Center (Catalyst Center) access.
type DNACConfig struct {
	URL                string        `yaml:"url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DeviceFamily       string        `yaml:"device_family"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	// CommandTimeout is the per-device timeout in seconds passed to the
	// command runner. 0 lets DNA Center pick.
	CommandTimeout int `yaml:"command_timeout"`
}

// Configured reports whether DNA Center access is set up.
func (c DNACConfig) Configured() bool {
	return c.URL != "" && c.Username != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// FromEnvironment returns the default configuration filled from the
// IP_ADDRESS, USERNAME, PASSWORD and DNAC_IP variables. It is used when no
// config file exists, so a shell or .env-style environment is enough to
// run a report.
func FromEnvironment() *Config {
	cfg := &Config{
		WLC: ControllerConfig{
			Address:  os.Getenv("IP_ADDRESS"),
			Username: os.Getenv("USERNAME"),
			Password: os.Getenv("PASSWORD"),
		},
		SSH: SSHConfig{
			Username: os.Getenv("USERNAME"),
			Password: os.Getenv("PASSWORD"),
		},
	}
	if host := os.Getenv("DNAC_IP"); host != "" {
		if !strings.Contains(host, "://") {
			host = "https://" + host
		}
		cfg.DNAC = DNACConfig{
			URL:                host,
			Username:           os.Getenv("USERNAME"),
			Password:           os.Getenv("PASSWORD"),
			InsecureSkipVerify: true,
		}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Report.Path == "" {
		c.Report.Path = DefaultReportPath
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.Timeout == 0 {
		c.SSH.Timeout = 30 * time.Second
	}
	if c.SSH.Concurrency == 0 {
		c.SSH.Concurrency = 1
	}
	if c.DNAC.DeviceFamily == "" {
		c.DNAC.DeviceFamily = "Wireless Controller"
	}
	if c.DNAC.PollInterval == 0 {
		c.DNAC.PollInterval = 2 * time.Second
	}
	if c.DNAC.PollTimeout == 0 {
		c.DNAC.PollTimeout = 5 * time.Minute
	}
	c.DNAC.URL = strings.TrimRight(c.DNAC.URL, "/")

	c.Report.Path = expandHome(c.Report.Path)
	c.SSH.KnownHosts = expandHome(c.SSH.KnownHosts)
	c.InventoryFile = expandHome(c.InventoryFile)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks values that would otherwise fail late in a run.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat))
	}
	if _, err := apstats.ParseLayout(c.Parser.Layout); err != nil {
		errs = append(errs, err)
	}
	if c.Report.Format != "" {
		if _, err := report.ParseFormat(c.Report.Format); err != nil {
			errs = append(errs, err)
		}
	}
	if c.SSH.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("ssh.concurrency must be at least 1, got %d", c.SSH.Concurrency))
	}
	if c.SSH.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ssh.timeout must not be negative"))
	}
	for i, ctl := range c.Controllers {
		if !ctl.Configured() {
			errs = append(errs, fmt.Errorf("controllers[%d]: address is required", i))
		}
	}
	if c.DNAC.URL != "" && !strings.HasPrefix(c.DNAC.URL, "http://") && !strings.HasPrefix(c.DNAC.URL, "https://") {
		errs = append(errs, fmt.Errorf("dnac.url %q must include http:// or https://", c.DNAC.URL))
	}

	return errors.Join(errs...)
}

// ReportFormat resolves the configured or inferred report format.
func (c *Config) ReportFormat() (report.Format, error) {
	if c.Report.Format != "" {
		return report.ParseFormat(c.Report.Format)
	}
	return report.FormatFromPath(c.Report.Path)
}
