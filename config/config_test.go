package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestNewLayersFileThenEnvOverFlagDefaults exercises the full overlay
// chain New drives through Manager: a JSON file raises the TCP port
// above its flag default, then an environment variable raises it
// again, showing environment wins last.
func TestNewLayersFileThenEnvOverFlagDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netcore.json")
	if err := os.WriteFile(path, []byte(`{"tcp":{"port":9090},"env":"staging"}`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	os.Args = []string{"netcore-test", "-config-file", path}
	t.Setenv("NETCORE_TCP_PORT", "9191")

	cfg := New()

	if cfg.TCPPort != 9191 {
		t.Fatalf("TCPPort = %d, want 9191 (env should win over file)", cfg.TCPPort)
	}
	if cfg.Env != "staging" {
		t.Fatalf("Env = %q, want %q (file should win over flag default)", cfg.Env, "staging")
	}
	if cfg.UDPPort != 8081 {
		t.Fatalf("UDPPort = %d, want flag default 8081 unchanged", cfg.UDPPort)
	}
}

// TestManagerUnmarshalSkipsAbsentKeys asserts Unmarshal leaves struct
// fields untouched when Manager has no value for their config key,
// rather than zeroing them.
func TestManagerUnmarshalSkipsAbsentKeys(t *testing.T) {
	mgr := NewManager()
	mgr.Set("tcp.port", 1234)

	cfg := &Config{UDPPort: 8081, WorkerThreads: 4}
	if err := mgr.Unmarshal("", cfg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if cfg.TCPPort != 1234 {
		t.Fatalf("TCPPort = %d, want 1234", cfg.TCPPort)
	}
	if cfg.UDPPort != 8081 || cfg.WorkerThreads != 4 {
		t.Fatal("Unmarshal overwrote fields it had no value for")
	}
}

// TestManagerLoadFromEnvNormalizesKeys asserts LoadFromEnv strips the
// prefix, lowercases, and turns underscores into the dot-separated
// hierarchy Unmarshal's config tags expect.
func TestManagerLoadFromEnvNormalizesKeys(t *testing.T) {
	t.Setenv("NETCORE_WORKER_THREADS", "16")

	mgr := NewManager()
	mgr.LoadFromEnv("NETCORE")

	got := mgr.GetInt("worker.threads")
	if got != 16 {
		t.Fatalf("worker.threads = %d, want 16", got)
	}
}
