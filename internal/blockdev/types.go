package blockdev

// Raw JSON representation from lsblk --bytes --json
type rawTree struct {
	Blockdevices []rawDevice `json:"blockdevices"`
}

type rawDevice struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Path       string      `json:"path"`
	Size       any         `json:"size"` // number (bytes) when using --bytes
	Rota       *bool       `json:"rota,omitempty"`
	Type       string      `json:"type"`
	Tran       string      `json:"tran,omitempty"`
	Vendor     string      `json:"vendor,omitempty"`
	Model      string      `json:"model,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	Mountpoint *string     `json:"mountpoint,omitempty"`
	FSType     string      `json:"fstype,omitempty"`
	RM         *bool       `json:"rm,omitempty"`
	Hotplug    *bool       `json:"hotplug,omitempty"`
	Children   []rawDevice `json:"children,omitempty"`
}

// Unknown is the sentinel substituted for metadata lsblk could not report.
const Unknown = "unknown"

// Usage is the mounted-filesystem occupancy of a partition, when it could be
// read. Fields are best-effort; a permission error leaves Usage nil without
// failing the inventory query.
type Usage struct {
	UsedBytes uint64 `json:"usedBytes"`
	FreeBytes uint64 `json:"freeBytes"`
}

// Device is one normalized block-device snapshot. Snapshots are rebuilt on
// every query and never mutated; Path is not guaranteed stable across
// re-plugging events.
type Device struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Type       string   `json:"type"`
	SizeBytes  uint64   `json:"sizeBytes"`
	Model      string   `json:"model"`
	Vendor     string   `json:"vendor,omitempty"`
	Serial     string   `json:"serial,omitempty"`
	Bus        string   `json:"bus"`
	Removable  bool     `json:"removable"`
	Rota       *bool    `json:"rota,omitempty"`
	FSType     string   `json:"fsType,omitempty"`
	Mountpoint string   `json:"mountpoint,omitempty"`
	Usage      *Usage   `json:"usage,omitempty"`
	HostsRoot  bool     `json:"hostsRoot"`
	Children   []Device `json:"children,omitempty"`
}

// Mounted reports whether the device or any of its partitions is mounted.
func (d Device) Mounted() bool {
	if d.Mountpoint != "" {
		return true
	}
	for _, c := range d.Children {
		if c.Mounted() {
			return true
		}
	}
	return false
}

// FindPath returns the snapshot for path, matching the device itself or one
// of its partitions.
func (d Device) FindPath(path string) (Device, bool) {
	if d.Path == path {
		return d, true
	}
	for _, c := range d.Children {
		if found, ok := c.FindPath(path); ok {
			return found, ok
		}
	}
	return Device{}, false
}
