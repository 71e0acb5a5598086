package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "timeout: 3s\ngrace: 250ms\ncount: 2\nself_echo: timeout\nnetwork:\n  gateway_ip: 192.168.7.1\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q", res.Root, dir)
	}
	if res.Path != filepath.Join(dir, FileName) {
		t.Errorf("Path = %q", res.Path)
	}
	cfg := res.Config
	if cfg.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v, want 3s", cfg.Timeout())
	}
	if cfg.Grace() != 250*time.Millisecond {
		t.Errorf("Grace() = %v, want 250ms", cfg.Grace())
	}
	if cfg.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cfg.Count())
	}
	if cfg.SelfEcho != SelfEchoTimeout {
		t.Errorf("SelfEcho = %q, want %q", cfg.SelfEcho, SelfEchoTimeout)
	}
	n := cfg.Net()
	if n.GatewayIP != "192.168.7.1" {
		t.Errorf("GatewayIP = %q, want override", n.GatewayIP)
	}
	if n.DeviceIP != DefaultNetwork.DeviceIP {
		t.Errorf("DeviceIP = %q, want default", n.DeviceIP)
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "build_dir: build\n")

	sub := filepath.Join(root, "scripts", "ci")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != root {
		t.Errorf("Root = %q, want %q", res.Root, root)
	}
	// Relative build_dir resolves against the file location.
	if want := filepath.Join(root, "build"); res.Config.BuildDir != want {
		t.Errorf("BuildDir = %q, want %q", res.Config.BuildDir, want)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Root != dir {
		t.Errorf("Root = %q, want %q (fallback to workspace)", res.Root, dir)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty", res.Path)
	}
	cfg := res.Config
	if cfg.Timeout() != DefaultTimeout || cfg.Grace() != DefaultGrace || cfg.Count() != DefaultCount {
		t.Errorf("expected defaults, got timeout=%v grace=%v count=%d", cfg.Timeout(), cfg.Grace(), cfg.Count())
	}
	if diff := cmp.Diff(DefaultNetwork, cfg.Net()); diff != "" {
		t.Errorf("Net() mismatch (-want +got):\n%s", diff)
	}
	if cfg.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", cfg.Attempts())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "timeout: [\n",
		"bad duration": "timeout: soon\n",
		"negative":     "grace: -1s\n",
		"bad mac":      "network:\n  device_mac: 06:11:22\n",
		"bad ip":       "network:\n  unknown_ip: 10.0.0.300\n",
		"ipv6":         "network:\n  gateway_ip: \"::1\"\n",
		"self echo":    "self_echo: maybe\n",
		"resolve":      "resolve_command: \"arping 'unterminated\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, body)
			if _, err := Load(dir); err == nil {
				t.Errorf("Load(%q) succeeded, want error", body)
			}
		})
	}
}

func TestResolveArgv(t *testing.T) {
	cfg := &Config{}
	argv, err := cfg.ResolveArgv()
	if err != nil {
		t.Fatalf("ResolveArgv: %v", err)
	}
	want := []string{"sudo", "arping", "10.255.255.102", "-i", "br0", "-c", "1"}
	if diff := cmp.Diff(want, argv); diff != "" {
		t.Errorf("ResolveArgv mismatch (-want +got):\n%s", diff)
	}

	cfg = &Config{
		ResolveCommand: `arping -I "{bridge}" -c 1 {device_ip}`,
		Network:        Network{Bridge: "tap bridge", DeviceIP: "10.0.0.2"},
	}
	argv, err = cfg.ResolveArgv()
	if err != nil {
		t.Fatalf("ResolveArgv: %v", err)
	}
	want = []string{"arping", "-I", "tap bridge", "-c", "1", "10.0.0.2"}
	if diff := cmp.Diff(want, argv); diff != "" {
		t.Errorf("ResolveArgv mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveArgv_Empty(t *testing.T) {
	cfg := &Config{ResolveCommand: "   "}
	_, err := cfg.ResolveArgv()
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("ResolveArgv() err = %v, want empty command error", err)
	}
}
