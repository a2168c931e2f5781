package blockdev

import (
	"context"
	"fmt"
	"strings"
)

// Probe returns the current snapshot for a single device or partition path.
func Probe(ctx context.Context, path string) (Device, error) {
	devices, err := List(ctx, Options{IncludeVirtual: true})
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if found, ok := d.FindPath(path); ok {
			return found, nil
		}
	}
	return Device{}, fmt.Errorf("device %s not present in inventory", path)
}

// DetectFilesystem reports the filesystem kind on path. lsblk's view is
// preferred; blkid is the fallback for freshly written filesystems the
// kernel has not re-read yet.
func DetectFilesystem(ctx context.Context, path string) (string, error) {
	if dev, err := Probe(ctx, path); err == nil && dev.FSType != "" {
		return dev.FSType, nil
	}
	res, err := runCommand(ctx, lsblkTimeout, "blkid", "-o", "value", "-s", "TYPE", path)
	if err != nil {
		return "", fmt.Errorf("probe filesystem on %s: %w", path, err)
	}
	fstype := strings.TrimSpace(string(res.Stdout))
	if fstype == "" {
		return "", fmt.Errorf("no filesystem detected on %s", path)
	}
	return fstype, nil
}
