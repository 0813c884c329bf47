package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daviddao/peerbus/pkg/bus"
	"github.com/daviddao/peerbus/pkg/store"
)

// --- defaults ---

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.Backend != "dir" {
		t.Fatalf("default backend: got %q, want %q", cfg.Backend, "dir")
	}
	if cfg.Capacity != store.DefaultCapacity {
		t.Fatalf("default capacity: got %d, want %d", cfg.Capacity, store.DefaultCapacity)
	}
	if cfg.Tick != bus.DefaultTickInterval {
		t.Fatalf("default tick: got %s, want %s", cfg.Tick, bus.DefaultTickInterval)
	}
	if cfg.Expiration != bus.DefaultExpiration {
		t.Fatalf("default expiration: got %s, want %s", cfg.Expiration, bus.DefaultExpiration)
	}
}

// --- file layer ---

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pbus.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
id = "file-id"
backend = "table"
tick = "100ms"
capacity = 8
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ID != "file-id" {
		t.Fatalf("id from file: got %q, want %q", cfg.ID, "file-id")
	}
	if cfg.Backend != "table" {
		t.Fatalf("backend from file: got %q, want %q", cfg.Backend, "table")
	}
	if cfg.Tick != 100*time.Millisecond {
		t.Fatalf("tick from file: got %s, want 100ms", cfg.Tick)
	}
	if cfg.Capacity != 8 {
		t.Fatalf("capacity from file: got %d, want 8", cfg.Capacity)
	}
	// Keys the file does not mention keep their defaults.
	if cfg.Expiration != bus.DefaultExpiration {
		t.Fatalf("expiration untouched: got %s, want %s", cfg.Expiration, bus.DefaultExpiration)
	}
}

func TestLoadConfig_FileBadDuration(t *testing.T) {
	path := writeConfigFile(t, `tick = "soon"`)
	_, err := loadConfig(path)
	if err == nil {
		t.Fatal("bad duration should fail")
	}
	if !strings.Contains(err.Error(), "tick") {
		t.Fatalf("error should name the key: %v", err)
	}
}

func TestLoadConfig_FileMissing(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("missing config file should fail")
	}
}

// --- env layer ---

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
id = "file-id"
backend = "table"
`)
	t.Setenv("PEERBUS_ID", "env-id")
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ID != "env-id" {
		t.Fatalf("env should beat file: got %q, want %q", cfg.ID, "env-id")
	}
	if cfg.Backend != "table" {
		t.Fatalf("unset env key should keep file value: got %q", cfg.Backend)
	}
}

func TestLoadConfig_EnvTypes(t *testing.T) {
	t.Setenv("PEERBUS_CAPACITY", "9")
	t.Setenv("PEERBUS_TICK", "1s")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Capacity != 9 {
		t.Fatalf("capacity from env: got %d, want 9", cfg.Capacity)
	}
	if cfg.Tick != time.Second {
		t.Fatalf("tick from env: got %s, want 1s", cfg.Tick)
	}
}

func TestLoadConfig_EnvBadValue(t *testing.T) {
	t.Setenv("PEERBUS_CAPACITY", "lots")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("unparsable env value should fail")
	}
}

// --- flag layer ---

func TestResolveConfig_FlagBeatsEnv(t *testing.T) {
	t.Setenv("PEERBUS_ID", "env-id")
	t.Setenv("PEERBUS_EXPIRATION", "9s")

	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	if err := flags.Parse([]string{"--id", "flag-id", "--tick", "2s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.ID != "flag-id" {
		t.Fatalf("flag should beat env: got %q, want %q", cfg.ID, "flag-id")
	}
	if cfg.Tick != 2*time.Second {
		t.Fatalf("tick from flag: got %s, want 2s", cfg.Tick)
	}
	if cfg.Expiration != 9*time.Second {
		t.Fatalf("expiration from env: got %s, want 9s", cfg.Expiration)
	}
}

func TestResolveConfig_UnsetFlagsLeaveConfigAlone(t *testing.T) {
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	cfgPath := busFlags(flags)
	if err := flags.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := resolveConfig(flags, *cfgPath)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	// The registered flag defaults are sentinels, not values.
	if cfg.Backend != "dir" {
		t.Fatalf("backend: got %q, want default %q", cfg.Backend, "dir")
	}
	if cfg.Tick != bus.DefaultTickInterval {
		t.Fatalf("tick: got %s, want default %s", cfg.Tick, bus.DefaultTickInterval)
	}
}

// --- path resolution ---

func TestStoreRoot_ExplicitDirWins(t *testing.T) {
	cfg := Config{Dir: "/tmp/explicit", Namespace: "ns"}
	if got := cfg.storeRoot(); got != "/tmp/explicit" {
		t.Fatalf("storeRoot: got %q, want %q", got, "/tmp/explicit")
	}
}

func TestStoreRoot_NamespaceScopesDefault(t *testing.T) {
	cfg := Config{Namespace: "ci"}
	want := filepath.Join(store.DefaultDir(), "ci")
	if got := cfg.storeRoot(); got != want {
		t.Fatalf("storeRoot: got %q, want %q", got, want)
	}
}

func TestStoreRoot_EmptyMeansBackendDefault(t *testing.T) {
	if got := (Config{}).storeRoot(); got != "" {
		t.Fatalf("storeRoot: got %q, want empty", got)
	}
}

func TestTablePath_ExplicitWins(t *testing.T) {
	cfg := Config{Table: "/tmp/x.db", Namespace: "ns"}
	if got := cfg.tablePath(); got != "/tmp/x.db" {
		t.Fatalf("tablePath: got %q, want %q", got, "/tmp/x.db")
	}
}

func TestTablePath_NamespaceScopesDefault(t *testing.T) {
	cfg := Config{Namespace: "ci"}
	want := filepath.Join(store.DefaultDir(), "ci", "instances.db")
	if got := cfg.tablePath(); got != want {
		t.Fatalf("tablePath: got %q, want %q", got, want)
	}
}

func TestTablePath_Default(t *testing.T) {
	want := filepath.Join(store.DefaultDir(), "instances.db")
	if got := (Config{}).tablePath(); got != want {
		t.Fatalf("tablePath: got %q, want %q", got, want)
	}
}
