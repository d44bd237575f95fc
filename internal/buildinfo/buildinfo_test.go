package buildinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestBuildInfo(t *testing.T) {
	info := BuildInfo()
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if info.GitCommit == "" || info.BuildTime == "" {
		t.Errorf("empty commit or build time: %+v", info)
	}
}

func TestUserAgent(t *testing.T) {
	old := Version
	Version = "v1.4.0"
	t.Cleanup(func() { Version = old })

	if got := UserAgent(); got != "apreport/v1.4.0" {
		t.Errorf("UserAgent() = %q", got)
	}
	if s := String(); !strings.HasPrefix(s, "apreport v1.4.0 ") {
		t.Errorf("String() = %q", s)
	}
}
