// Package blockdev enumerates the host's block devices through lsblk and
// exposes normalized, read-only snapshots of them.
package blockdev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gopsdisk "github.com/shirou/gopsutil/v3/disk"

	"usbctl/pkg/shell"
)

var ErrNoLsblk = errors.New("lsblk not found")

const lsblkTimeout = 5 * time.Second

// test seams
var (
	runCommand = shell.Run
	diskUsage  = gopsdisk.Usage
)

// Options narrows or widens an inventory query.
type Options struct {
	// IncludeVirtual keeps loop, ram, zram and optical devices in the result.
	IncludeVirtual bool
}

// List returns a snapshot of the host's disks. Partitions appear as Children
// of their disk; metadata lsblk cannot report is substituted with sentinels
// instead of failing the whole query.
func List(ctx context.Context, opts Options) ([]Device, error) {
	args := []string{"--bytes", "--json", "-O", "-o",
		"NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,VENDOR,MODEL,SERIAL,MOUNTPOINT,FSTYPE,RM,HOTPLUG"}
	res, err := runCommand(ctx, lsblkTimeout, "lsblk", args...)
	if errors.Is(err, shell.ErrNotFound) {
		return nil, ErrNoLsblk
	}
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	var tree rawTree
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return nil, fmt.Errorf("lsblk json: %w", err)
	}

	out := []Device{}
	for _, bd := range tree.Blockdevices {
		switch bd.Type {
		case "disk":
		case "loop", "rom":
			if !opts.IncludeVirtual {
				continue
			}
		default:
			continue
		}
		if !opts.IncludeVirtual && isVirtual(bd) {
			continue
		}
		out = append(out, normalize(bd))
	}
	return out, nil
}

// isVirtual catches pseudo-disks that lsblk still reports with type "disk"
// (ram and zram devices).
func isVirtual(d rawDevice) bool {
	for _, prefix := range []string{"loop", "ram", "zram", "sr"} {
		if strings.HasPrefix(d.Name, prefix) {
			return true
		}
	}
	return false
}

func normalize(d rawDevice) Device {
	dev := Device{
		Name:      d.Name,
		Path:      firstNonEmpty(d.Path, "/dev/"+d.Name),
		Type:      d.Type,
		SizeBytes: normalizeSize(d.Size),
		Model:     firstNonEmpty(strings.TrimSpace(d.Model), Unknown),
		Vendor:    strings.TrimSpace(d.Vendor),
		Serial:    strings.TrimSpace(d.Serial),
		Bus:       firstNonEmpty(strings.TrimSpace(d.Tran), Unknown),
		Removable: boolValue(d.RM) || boolValue(d.Hotplug),
		Rota:      d.Rota,
		FSType:    d.FSType,
	}
	if d.Mountpoint != nil {
		dev.Mountpoint = *d.Mountpoint
	}
	if dev.Mountpoint == "/" {
		dev.HostsRoot = true
	}
	if dev.Mountpoint != "" && !strings.HasPrefix(dev.Mountpoint, "[") {
		if u, err := diskUsage(dev.Mountpoint); err == nil {
			dev.Usage = &Usage{UsedBytes: u.Used, FreeBytes: u.Free}
		}
	}
	for _, c := range d.Children {
		child := normalize(c)
		// partitions inherit transport and removability from the disk
		if child.Bus == Unknown {
			child.Bus = dev.Bus
		}
		child.Removable = child.Removable || dev.Removable
		if child.HostsRoot {
			dev.HostsRoot = true
		}
		// surface the first child filesystem on an unformatted disk snapshot
		if dev.FSType == "" && child.FSType != "" {
			dev.FSType = child.FSType
		}
		dev.Children = append(dev.Children, child)
	}
	return dev
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func boolValue(v *bool) bool {
	return v != nil && *v
}

func normalizeSize(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case json.Number:
		n, _ := t.Int64()
		if n < 0 {
			return 0
		}
		return uint64(n)
	case string:
		var n uint64
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n
		}
		return 0
	default:
		return 0
	}
}
