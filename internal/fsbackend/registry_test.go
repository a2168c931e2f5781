package fsbackend

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveCaseInsensitive(t *testing.T) {
	upper, err := Resolve("FAT32")
	if err != nil {
		t.Fatalf("Resolve(FAT32): %v", err)
	}
	lower, err := Resolve("fat32")
	if err != nil {
		t.Fatalf("Resolve(fat32): %v", err)
	}
	if !reflect.DeepEqual(upper, lower) {
		t.Fatalf("case-sensitive resolve: %+v vs %+v", upper, lower)
	}
}

func TestResolveProbeAlias(t *testing.T) {
	b, err := Resolve("vfat")
	if err != nil {
		t.Fatalf("Resolve(vfat): %v", err)
	}
	if b.Kind != FAT32 {
		t.Fatalf("vfat resolved to %s", b.Kind)
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("btrfs")
	if !errors.Is(err, ErrUnsupportedFilesystem) {
		t.Fatalf("expected ErrUnsupportedFilesystem, got %v", err)
	}
}

func TestFormatArgs(t *testing.T) {
	b, err := Resolve("fat32")
	if err != nil {
		t.Fatal(err)
	}
	got := b.FormatArgs("/dev/sdb1", "DATA")
	want := []string{"mkfs.fat", "-F", "32", "-n", "DATA", "/dev/sdb1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("labeled args = %v", got)
	}
	got = b.FormatArgs("/dev/sdb1", "")
	want = []string{"mkfs.fat", "-F", "32", "/dev/sdb1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unlabeled args = %v", got)
	}
}

func TestRepairArgs(t *testing.T) {
	b, err := Resolve("ext4")
	if err != nil {
		t.Fatal(err)
	}
	got := b.RepairArgs("/dev/sdb1")
	want := []string{"e2fsck", "-pf", "/dev/sdb1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("repair args = %v", got)
	}
}

func TestKinds(t *testing.T) {
	got := Kinds()
	want := []string{"exfat", "ext4", "fat32", "ntfs"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Kinds() = %v", got)
	}
}
