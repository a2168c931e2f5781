// Package fsbackend maps filesystem kinds to the mkfs/fsck command templates
// used to create and repair them. The registry is process-wide constant state.
package fsbackend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a supported filesystem.
type Kind string

const (
	FAT32 Kind = "fat32"
	EXT4  Kind = "ext4"
	NTFS  Kind = "ntfs"
	ExFAT Kind = "exfat"
)

var ErrUnsupportedFilesystem = errors.New("unsupported filesystem")

// Backend is one immutable format/repair command template pair.
type Backend struct {
	Kind Kind
	// PartedType is the filesystem token parted expects in mkpart.
	PartedType string

	mkfs      []string
	labelFlag string
	repair    []string
}

// FormatArgs returns the argv creating this filesystem on device, with the
// volume label substituted when non-empty.
func (b Backend) FormatArgs(device, label string) []string {
	args := append([]string{}, b.mkfs...)
	if label != "" {
		args = append(args, b.labelFlag, label)
	}
	return append(args, device)
}

// RepairArgs returns the argv running a consistency check/repair on device.
func (b Backend) RepairArgs(device string) []string {
	return append(append([]string{}, b.repair...), device)
}

var registry = map[Kind]Backend{
	FAT32: {
		Kind:       FAT32,
		PartedType: "fat32",
		mkfs:       []string{"mkfs.fat", "-F", "32"},
		labelFlag:  "-n",
		repair:     []string{"dosfsck", "-a"},
	},
	EXT4: {
		Kind:       EXT4,
		PartedType: "ext4",
		mkfs:       []string{"mkfs.ext4", "-F"},
		labelFlag:  "-L",
		repair:     []string{"e2fsck", "-pf"},
	},
	NTFS: {
		Kind:       NTFS,
		PartedType: "ntfs",
		mkfs:       []string{"mkntfs", "-Q", "-F"},
		labelFlag:  "-L",
		repair:     []string{"ntfsfix"},
	},
	ExFAT: {
		Kind:       ExFAT,
		PartedType: "ntfs", // parted has no exfat token; the mkfs rewrites it anyway
		mkfs:       []string{"mkfs.exfat"},
		labelFlag:  "-n",
		repair:     []string{"fsck.exfat"},
	},
}

// aliases fold the names probing tools report onto registry kinds.
var aliases = map[string]Kind{
	"vfat":  FAT32,
	"fat":   FAT32,
	"msdos": FAT32,
}

// Resolve looks up the backend for kind, case-insensitively. Names reported
// by blkid/lsblk (like vfat) resolve to the matching backend.
func Resolve(kind string) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(kind))
	if k, ok := aliases[name]; ok {
		name = string(k)
	}
	b, ok := registry[Kind(name)]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %q", ErrUnsupportedFilesystem, kind)
	}
	return b, nil
}

// Kinds lists the registered filesystem names, sorted, for CLI help text.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}
