// Package safety authorizes destructive operations against block devices.
// Authorization always re-queries the inventory so a stale device reference
// or a drive pulled between selection and execution is caught.
package safety

import (
	"context"
	"fmt"

	"usbctl/internal/blockdev"
)

// Violation is a refused authorization. It is never auto-retried; the
// operator corrects the target or supplies an explicit force override.
type Violation struct {
	Device string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("refusing to touch %s: %s", v.Device, v.Reason)
}

// test seam
var listDevices = blockdev.List

// Result carries the fresh snapshot an authorized operation should run
// against, plus warnings for conditions a force override bypassed.
type Result struct {
	Device   blockdev.Device
	Warnings []string
}

// Authorize checks that a destructive operation may proceed against path.
// It must be called immediately before the operation starts, not only at
// request-construction time.
func Authorize(ctx context.Context, path string, force bool) (Result, error) {
	devices, err := listDevices(ctx, blockdev.Options{IncludeVirtual: true})
	if err != nil {
		return Result{}, fmt.Errorf("inventory query: %w", err)
	}

	var target blockdev.Device
	var parent blockdev.Device
	found := false
	for _, d := range devices {
		if dev, ok := d.FindPath(path); ok {
			target, parent, found = dev, d, true
			break
		}
	}
	if !found {
		return Result{}, &Violation{Device: path, Reason: "not present in the current device inventory"}
	}

	res := Result{Device: target}

	if !target.Removable {
		if !force {
			return Result{}, &Violation{Device: path, Reason: "device is not removable (pass --force to override)"}
		}
		res.Warnings = append(res.Warnings, "non-removable device, proceeding under --force")
	}

	if parent.HostsRoot {
		if !force {
			return Result{}, &Violation{Device: path, Reason: "device hosts the root filesystem (pass --force to override)"}
		}
		res.Warnings = append(res.Warnings, "device hosts the root filesystem, proceeding under --force")
	}

	return res, nil
}
