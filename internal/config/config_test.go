package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // no ambient config file
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != zerolog.InfoLevel {
		t.Fatalf("log level = %s", cfg.LogLevel)
	}
	if cfg.BlockSize != DefaultBlockSize {
		t.Fatalf("block size = %d", cfg.BlockSize)
	}
	if len(cfg.Hashes) != 1 || cfg.Hashes[0] != "sha256" {
		t.Fatalf("hashes = %v", cfg.Hashes)
	}
	if cfg.InventoryWait != DefaultInventoryWait {
		t.Fatalf("inventory wait = %s", cfg.InventoryWait)
	}
	if cfg.AssumeYes {
		t.Fatalf("assume_yes defaulted on")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "log_level: debug\nblock_size: 1048576\nreport_dir: /var/lib/usbctl\nassume_yes: true\ninventory_wait: 2s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("log level = %s", cfg.LogLevel)
	}
	if cfg.BlockSize != 1<<20 {
		t.Fatalf("block size = %d", cfg.BlockSize)
	}
	if cfg.ReportDir != "/var/lib/usbctl" {
		t.Fatalf("report dir = %s", cfg.ReportDir)
	}
	if !cfg.AssumeYes {
		t.Fatalf("assume_yes not read")
	}
	if cfg.InventoryWait != 2*time.Second {
		t.Fatalf("inventory wait = %s", cfg.InventoryWait)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USBCTL_LOG_LEVEL", "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != zerolog.WarnLevel {
		t.Fatalf("env override ignored, level = %s", cfg.LogLevel)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "level.yaml")
	if err := os.WriteFile(bad, []byte("log_level: shouting\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("bad log level accepted")
	}

	neg := filepath.Join(dir, "neg.yaml")
	if err := os.WriteFile(neg, []byte("block_size: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(neg); err == nil {
		t.Fatalf("negative block size accepted")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
}

func TestLoggerVerboseLowersLevel(t *testing.T) {
	cfg := Config{LogLevel: zerolog.InfoLevel}
	log := Logger(cfg, true)
	if log.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("verbose level = %s", log.GetLevel())
	}
	log = Logger(cfg, false)
	if log.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level = %s", log.GetLevel())
	}
}
