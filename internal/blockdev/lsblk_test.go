package blockdev

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	gopsdisk "github.com/shirou/gopsutil/v3/disk"

	"usbctl/pkg/shell"
)

func withFixture(t *testing.T) {
	t.Helper()
	fixture, err := os.ReadFile("testdata/lsblk.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	origRun, origUsage := runCommand, diskUsage
	runCommand = func(ctx context.Context, timeout time.Duration, name string, args ...string) (shell.Result, error) {
		if name != "lsblk" {
			return shell.Result{Code: -1}, errors.New("unexpected command " + name)
		}
		return shell.Result{Stdout: fixture}, nil
	}
	diskUsage = func(path string) (*gopsdisk.UsageStat, error) {
		if path == "/run/media/heini/DATA" {
			return &gopsdisk.UsageStat{Used: 1 << 30, Free: 2 << 30}, nil
		}
		return nil, errors.New("permission denied")
	}
	t.Cleanup(func() {
		runCommand, diskUsage = origRun, origUsage
	})
}

func TestListFiltersVirtualDevices(t *testing.T) {
	withFixture(t)
	devices, err := List(context.Background(), Options{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 disks, got %d", len(devices))
	}
	for _, d := range devices {
		if d.Name == "loop0" || d.Name == "sr0" {
			t.Fatalf("virtual device %s not excluded", d.Name)
		}
	}

	all, err := List(context.Background(), Options{IncludeVirtual: true})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 devices with virtual, got %d", len(all))
	}
}

func TestListNormalizes(t *testing.T) {
	withFixture(t)
	devices, err := List(context.Background(), Options{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	byName := map[string]Device{}
	for _, d := range devices {
		byName[d.Name] = d
	}

	system := byName["nvme0n1"]
	if system.Removable {
		t.Fatalf("nvme0n1 reported removable")
	}
	if !system.HostsRoot {
		t.Fatalf("nvme0n1 hosts the root filesystem")
	}
	if system.Bus != "nvme" {
		t.Fatalf("nvme0n1 bus = %q", system.Bus)
	}
	if len(system.Children) != 2 {
		t.Fatalf("nvme0n1 children = %d", len(system.Children))
	}
	// fstype of the first formatted child surfaces on the disk snapshot
	if system.FSType != "vfat" {
		t.Fatalf("nvme0n1 folded fstype = %q", system.FSType)
	}
	// child with null tran inherits the disk transport
	if system.Children[1].Bus != "nvme" {
		t.Fatalf("nvme0n1p2 bus = %q", system.Children[1].Bus)
	}

	usb := byName["sdb"]
	if !usb.Removable {
		t.Fatalf("sdb not removable")
	}
	if usb.HostsRoot {
		t.Fatalf("sdb must not host root")
	}
	if usb.SizeBytes != 15931539456 {
		t.Fatalf("sdb size = %d", usb.SizeBytes)
	}
	if !usb.Mounted() {
		t.Fatalf("sdb has a mounted partition")
	}
	part := usb.Children[0]
	if part.Usage == nil || part.Usage.UsedBytes != 1<<30 {
		t.Fatalf("sdb1 usage not decorated: %+v", part.Usage)
	}

	bare := byName["sdc"]
	if bare.Model != Unknown || bare.Bus != Unknown {
		t.Fatalf("sentinels missing: model=%q bus=%q", bare.Model, bare.Bus)
	}
}

func TestFindPath(t *testing.T) {
	withFixture(t)
	devices, err := List(context.Background(), Options{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, d := range devices {
		if d.Name != "sdb" {
			continue
		}
		if _, ok := d.FindPath("/dev/sdb1"); !ok {
			t.Fatalf("partition path not found")
		}
		if _, ok := d.FindPath("/dev/sdz"); ok {
			t.Fatalf("unexpected match for /dev/sdz")
		}
	}
}

func TestNormalizeSize(t *testing.T) {
	if got := normalizeSize(json.Number("8589934592")); got != 8589934592 {
		t.Fatalf("expected 8GiB, got %d", got)
	}
	if got := normalizeSize(float64(512)); got != 512 {
		t.Fatalf("float: %d", got)
	}
	if got := normalizeSize("1024"); got != 1024 {
		t.Fatalf("string: %d", got)
	}
	if got := normalizeSize(nil); got != 0 {
		t.Fatalf("nil: %d", got)
	}
	if got := normalizeSize(float64(-1)); got != 0 {
		t.Fatalf("negative: %d", got)
	}
}

func TestDetectFilesystemFallsBackToBlkid(t *testing.T) {
	withFixture(t)
	orig := runCommand
	runCommand = func(ctx context.Context, timeout time.Duration, name string, args ...string) (shell.Result, error) {
		switch name {
		case "lsblk":
			return shell.Result{Stdout: []byte(`{"blockdevices":[]}`)}, nil
		case "blkid":
			return shell.Result{Stdout: []byte("ext4\n")}, nil
		}
		return shell.Result{Code: -1}, errors.New("unexpected command " + name)
	}
	t.Cleanup(func() { runCommand = orig })

	fstype, err := DetectFilesystem(context.Background(), "/dev/sdq1")
	if err != nil {
		t.Fatalf("DetectFilesystem: %v", err)
	}
	if fstype != "ext4" {
		t.Fatalf("fstype = %q", fstype)
	}
}
