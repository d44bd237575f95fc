package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/apreport/internal/report"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apreport.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "command: show ap summary\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/apreport.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "apreport.yaml"), []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "apreport.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "apreport.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Command != DefaultCommand {
		t.Errorf("Command = %q, want %q", cfg.Command, DefaultCommand)
	}
	if cfg.Report.Path != DefaultReportPath {
		t.Errorf("Report.Path = %q", cfg.Report.Path)
	}
	if cfg.SSH.Port != 22 || cfg.SSH.Timeout != 30*time.Second || cfg.SSH.Concurrency != 1 {
		t.Errorf("SSH defaults = %+v", cfg.SSH)
	}
	if cfg.DNAC.DeviceFamily != "Wireless Controller" {
		t.Errorf("DeviceFamily = %q", cfg.DNAC.DeviceFamily)
	}
	format, err := cfg.ReportFormat()
	if err != nil || format != report.FormatXLSX {
		t.Errorf("ReportFormat() = %q, %v; want xlsx", format, err)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("IP_ADDRESS", "10.1.1.5")
	t.Setenv("USERNAME", "netops")
	t.Setenv("PASSWORD", "s3cret")
	t.Setenv("DNAC_IP", "dnac.example.net")

	cfg, err := Load(writeConfig(t, `
wlc:
  address: ${IP_ADDRESS}
  username: ${USERNAME}
  password: ${PASSWORD}
dnac:
  url: https://${DNAC_IP}/
  username: ${USERNAME}
  password: ${PASSWORD}
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.WLC.Address != "10.1.1.5" || cfg.WLC.Username != "netops" || cfg.WLC.Password != "s3cret" {
		t.Errorf("WLC = %+v", cfg.WLC)
	}
	if cfg.DNAC.URL != "https://dnac.example.net" {
		t.Errorf("DNAC.URL = %q, want trailing slash trimmed", cfg.DNAC.URL)
	}
	if !cfg.DNAC.Configured() {
		t.Error("DNAC should be configured")
	}
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log_level: debug
log_format: json
parser:
  layout: interface-rows
report:
  path: out/report.csv
ssh:
  port: 2222
  timeout: 45s
  concurrency: 4
controllers:
  - address: 10.0.0.10
  - address: 10.0.0.11
    username: admin
inventory_file: credentials.json
dnac:
  url: https://dnac
  username: u
  poll_interval: 500ms
  poll_timeout: 1m
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.SSH.Port != 2222 || cfg.SSH.Timeout != 45*time.Second || cfg.SSH.Concurrency != 4 {
		t.Errorf("SSH = %+v", cfg.SSH)
	}
	if len(cfg.Controllers) != 2 || cfg.Controllers[1].Username != "admin" {
		t.Errorf("Controllers = %+v", cfg.Controllers)
	}
	if cfg.DNAC.PollInterval != 500*time.Millisecond || cfg.DNAC.PollTimeout != time.Minute {
		t.Errorf("DNAC polling = %v/%v", cfg.DNAC.PollInterval, cfg.DNAC.PollTimeout)
	}
	format, err := cfg.ReportFormat()
	if err != nil || format != report.FormatCSV {
		t.Errorf("ReportFormat() = %q, %v; want csv", format, err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"log level", "log_level: loud\n", "unknown log level"},
		{"log format", "log_format: xml\n", "log_format"},
		{"layout", "parser:\n  layout: magic\n", "parser layout"},
		{"report format", "report:\n  format: pdf\n", "report format"},
		{"concurrency", "ssh:\n  concurrency: -2\n", "concurrency"},
		{"controller", "controllers:\n  - username: admin\n", "controllers[0]"},
		{"dnac url", "dnac:\n  url: dnac.local\n", "dnac.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace, "text")
	logger.Log(t.Context(), LevelTrace, "transcript", "device", "wlc-1")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected TRACE level name, got %q", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, slog.LevelInfo, "json").Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv("IP_ADDRESS", "10.9.9.9")
	t.Setenv("USERNAME", "netops")
	t.Setenv("PASSWORD", "pw")
	t.Setenv("DNAC_IP", "198.18.129.100")

	cfg := FromEnvironment()
	if cfg.WLC.Address != "10.9.9.9" || cfg.SSH.Username != "netops" || cfg.SSH.Password != "pw" {
		t.Errorf("WLC/SSH = %+v / %+v", cfg.WLC, cfg.SSH)
	}
	if cfg.DNAC.URL != "https://198.18.129.100" || !cfg.DNAC.InsecureSkipVerify {
		t.Errorf("DNAC = %+v", cfg.DNAC)
	}
	if cfg.Command != DefaultCommand || cfg.SSH.Port != 22 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFromEnvironment_Empty(t *testing.T) {
	for _, k := range []string{"IP_ADDRESS", "USERNAME", "PASSWORD", "DNAC_IP"} {
		t.Setenv(k, "")
	}
	cfg := FromEnvironment()
	if cfg.WLC.Configured() || cfg.DNAC.Configured() {
		t.Errorf("nothing should be configured: %+v", cfg)
	}
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(writeConfig(t, `
report:
  path: ~/reports/ap.xlsx
ssh:
  known_hosts: ~/.ssh/known_hosts
inventory_file: ./credentials.json
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if want := filepath.Join(home, "reports", "ap.xlsx"); cfg.Report.Path != want {
		t.Errorf("Report.Path = %q, want %q", cfg.Report.Path, want)
	}
	if want := filepath.Join(home, ".ssh", "known_hosts"); cfg.SSH.KnownHosts != want {
		t.Errorf("SSH.KnownHosts = %q, want %q", cfg.SSH.KnownHosts, want)
	}
	if cfg.InventoryFile != "./credentials.json" {
		t.Errorf("InventoryFile = %q, relative paths stay as given", cfg.InventoryFile)
	}
}
