package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"usbctl/internal/blockdev"
	"usbctl/internal/config"
	"usbctl/internal/lifecycle"
	"usbctl/internal/rawcopy"
	"usbctl/internal/safety"
	"usbctl/internal/sizeexpr"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"config", &lifecycle.ConfigError{Reason: "bad flag"}, exitConfig},
		{"size expression", &sizeexpr.ParseError{Input: "x", Reason: "bad"}, exitConfig},
		{"unknown hash", fmt.Errorf("copy: %w", rawcopy.ErrUnsupportedHash), exitConfig},
		{"safety violation", &safety.Violation{Device: "/dev/sda", Reason: "not removable"}, exitSafety},
		{"permission", &lifecycle.PermissionError{Op: "erase"}, exitPermission},
		{"busy", fmt.Errorf("/dev/sdb: %w", lifecycle.ErrDeviceBusy), exitBusy},
		{"runtime", errors.New("mkfs exploded"), exitRuntime},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("%s: exit code = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestUnknownHashIsConfigurationError(t *testing.T) {
	_, err := rawcopy.Copy(context.Background(), rawcopy.Options{
		SourcePath: "/dev/null", BlockSize: 512, Hashes: []string{"crc32"},
	})
	if err == nil {
		t.Fatalf("unknown hash accepted")
	}
	if got := exitCodeFor(err); got != exitConfig {
		t.Fatalf("exit code for unknown hash = %d, want %d", got, exitConfig)
	}
}

func withProbeStub(t *testing.T, dev blockdev.Device) {
	t.Helper()
	orig := probeDevice
	origCfg := cfg
	probeDevice = func(ctx context.Context, path string) (blockdev.Device, error) {
		return dev, nil
	}
	t.Cleanup(func() {
		probeDevice = orig
		cfg = origCfg
	})
}

func TestConfirmationsSkippedWithAssumeYes(t *testing.T) {
	withProbeStub(t, blockdev.Device{
		Name: "sdb", Path: "/dev/sdb", Removable: true, SizeBytes: 1 << 30,
	})
	cfg = config.Config{AssumeYes: true}

	if err := confirmDestruction(context.Background(), "Erasing", "/dev/sdb", false); err != nil {
		t.Fatalf("destructive confirmation not skipped: %v", err)
	}
	if err := confirmRepair(context.Background(), "/dev/sdb1"); err != nil {
		t.Fatalf("repair confirmation not skipped: %v", err)
	}
}
