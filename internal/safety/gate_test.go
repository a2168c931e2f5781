package safety

import (
	"context"
	"errors"
	"testing"

	"usbctl/internal/blockdev"
)

func withInventory(t *testing.T, devices []blockdev.Device) {
	t.Helper()
	orig := listDevices
	listDevices = func(ctx context.Context, opts blockdev.Options) ([]blockdev.Device, error) {
		return devices, nil
	}
	t.Cleanup(func() { listDevices = orig })
}

func inventory() []blockdev.Device {
	return []blockdev.Device{
		{
			Name: "nvme0n1", Path: "/dev/nvme0n1", Removable: false, HostsRoot: true,
			Children: []blockdev.Device{
				{Name: "nvme0n1p2", Path: "/dev/nvme0n1p2", Removable: false, Mountpoint: "/", HostsRoot: true},
			},
		},
		{
			Name: "sdb", Path: "/dev/sdb", Removable: true,
			Children: []blockdev.Device{
				{Name: "sdb1", Path: "/dev/sdb1", Removable: true, FSType: "vfat"},
			},
		},
		{Name: "sda", Path: "/dev/sda", Removable: false},
	}
}

func TestAuthorizeRemovable(t *testing.T) {
	withInventory(t, inventory())
	res, err := Authorize(context.Background(), "/dev/sdb", false)
	if err != nil {
		t.Fatalf("removable device refused: %v", err)
	}
	if res.Device.Name != "sdb" {
		t.Fatalf("wrong snapshot: %+v", res.Device)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestAuthorizePartitionPath(t *testing.T) {
	withInventory(t, inventory())
	res, err := Authorize(context.Background(), "/dev/sdb1", false)
	if err != nil {
		t.Fatalf("partition refused: %v", err)
	}
	if res.Device.Path != "/dev/sdb1" {
		t.Fatalf("wrong snapshot: %+v", res.Device)
	}
}

func TestAuthorizeNonRemovable(t *testing.T) {
	withInventory(t, inventory())

	_, err := Authorize(context.Background(), "/dev/sda", false)
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected Violation, got %v", err)
	}

	res, err := Authorize(context.Background(), "/dev/sda", true)
	if err != nil {
		t.Fatalf("force override refused: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatalf("force override must carry a warning")
	}
}

func TestAuthorizeMissingDevice(t *testing.T) {
	withInventory(t, inventory())
	for _, force := range []bool{false, true} {
		_, err := Authorize(context.Background(), "/dev/sdz", force)
		var v *Violation
		if !errors.As(err, &v) {
			t.Fatalf("force=%v: expected Violation for missing device, got %v", force, err)
		}
	}
}

func TestAuthorizeRootDisk(t *testing.T) {
	withInventory(t, inventory())

	_, err := Authorize(context.Background(), "/dev/nvme0n1", false)
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("root disk without force must be refused, got %v", err)
	}

	res, err := Authorize(context.Background(), "/dev/nvme0n1", true)
	if err != nil {
		t.Fatalf("force on root disk refused: %v", err)
	}
	if len(res.Warnings) < 2 {
		t.Fatalf("expected non-removable and root warnings, got %v", res.Warnings)
	}
}

func TestAuthorizeInventoryFailure(t *testing.T) {
	orig := listDevices
	listDevices = func(ctx context.Context, opts blockdev.Options) ([]blockdev.Device, error) {
		return nil, errors.New("lsblk unavailable")
	}
	t.Cleanup(func() { listDevices = orig })

	_, err := Authorize(context.Background(), "/dev/sdb", false)
	if err == nil {
		t.Fatalf("expected error when inventory is unavailable")
	}
	var v *Violation
	if errors.As(err, &v) {
		t.Fatalf("query failure must not be a safety violation: %v", err)
	}
}
