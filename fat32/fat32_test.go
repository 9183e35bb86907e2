package fat32

import (
	"bytes"
	"encoding/binary"
	"testing"

	"palmyraos/ata"
	"palmyraos/ustr"
)

// formatTestVolume builds a minimal valid FAT32 image over a SimDrive and
// mounts it: one reserved sector, one FAT, 2 sectors/cluster, root at
// cluster 2. Just enough structure for Mount and the directory/cluster-chain
// operations under test.
func formatTestVolume(t *testing.T, sectors uint32) *Volume {
	t.Helper()
	const (
		reservedSectors = 1
		fatCount        = 1
		sectorsPerClus  = 2
	)
	drive := ata.NewSimDrive(sectors)
	dev := ata.New(drive, 0x1F0, ata.Master)
	vdisk := ata.NewVirtualDisk(dev, 0, sectors)

	dataSectors := sectors - reservedSectors
	clusterCount := dataSectors / sectorsPerClus
	fatSizeSectors := (clusterCount*4 + ata.SectorSize - 1) / ata.SectorSize
	if fatSizeSectors < 1 {
		fatSizeSectors = 1
	}

	bpb := make([]byte, ata.SectorSize)
	binary.LittleEndian.PutUint16(bpb[11:13], ata.SectorSize)
	bpb[13] = sectorsPerClus
	binary.LittleEndian.PutUint16(bpb[14:16], reservedSectors)
	bpb[16] = fatCount
	binary.LittleEndian.PutUint32(bpb[32:36], sectors)
	binary.LittleEndian.PutUint32(bpb[36:40], fatSizeSectors)
	binary.LittleEndian.PutUint32(bpb[44:48], 2) // root cluster
	copy(bpb[71:82], []byte("TESTVOL    "))
	copy(bpb[82:90], []byte("FAT32   "))
	if err := vdisk.WriteSector(0, bpb, 0); err != nil {
		t.Fatalf("writing BPB: %v", err)
	}

	// FAT sector 0: reserved entries 0/1, plus an end-of-chain marker for
	// the root directory's cluster 2.
	fat0 := make([]byte, ata.SectorSize)
	binary.LittleEndian.PutUint32(fat0[0:4], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(fat0[4:8], 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(fat0[8:12], 0x0FFFFFFF) // cluster 2 (root) = EOC
	if err := vdisk.WriteSector(reservedSectors, fat0, 0); err != nil {
		t.Fatalf("writing FAT sector: %v", err)
	}

	vol, err := Mount(vdisk)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return vol
}

func TestMountRefusesFAT16(t *testing.T) {
	drive := ata.NewSimDrive(64)
	dev := ata.New(drive, 0x1F0, ata.Master)
	vdisk := ata.NewVirtualDisk(dev, 0, 64)

	bpb := make([]byte, ata.SectorSize)
	binary.LittleEndian.PutUint16(bpb[11:13], ata.SectorSize)
	bpb[13] = 1
	binary.LittleEndian.PutUint16(bpb[14:16], 1)
	bpb[16] = 1
	copy(bpb[82:90], []byte("FAT16   "))
	if err := vdisk.WriteSector(0, bpb, 0); err != nil {
		t.Fatalf("writing BPB: %v", err)
	}

	if _, err := Mount(vdisk); err == nil {
		t.Fatal("expected Mount to refuse a FAT16 volume")
	}
}

// TestCreateLongNameFileRoundTrip exercises spec.md §8 scenario 2: create a
// file whose name requires an LFN, and confirm both the generated short name
// and a read-back of the directory listing.
func TestCreateLongNameFileRoundTrip(t *testing.T) {
	vol := formatTestVolume(t, 256)

	entry, err := vol.CreateFile(vol.RootCluster, "hello world.txt")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if entry.ShortName11 != "HELLOW~1TXT" {
		t.Fatalf("short name = %q, want %q", entry.ShortName11, "HELLOW~1TXT")
	}

	entries, err := vol.GetDirectoryEntries(vol.RootCluster)
	if err != nil {
		t.Fatalf("GetDirectoryEntries: %v", err)
	}
	found, ok := findByName(entries, "hello world.txt")
	if !ok {
		t.Fatalf("created file %q not found in directory listing: %+v", "hello world.txt", entries)
	}
	if found.Name != "hello world.txt" {
		t.Fatalf("listed long name = %q, want %q", found.Name, "hello world.txt")
	}
}

// TestWriteThenAppend exercises spec.md §8 scenario 3.
func TestWriteThenAppend(t *testing.T) {
	vol := formatTestVolume(t, 256)
	entry, err := vol.CreateFile(vol.RootCluster, "data.bin")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	first := bytes.Repeat([]byte{0x11}, 100)
	entry, err = vol.WriteFile(vol.RootCluster, entry, first)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if entry.Size != uint32(len(first)) {
		t.Fatalf("size after write = %d, want %d", entry.Size, len(first))
	}

	second := bytes.Repeat([]byte{0x22}, 50)
	entry, err = vol.AppendFile(vol.RootCluster, entry, second)
	if err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	want := len(first) + len(second)
	if int(entry.Size) != want {
		t.Fatalf("size after append = %d, want %d", entry.Size, want)
	}

	got, err := vol.ReadFile(entry)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != want {
		t.Fatalf("read back %d bytes, want %d", len(got), want)
	}
	if !bytes.Equal(got[:len(first)], first) || !bytes.Equal(got[len(first):], second) {
		t.Fatal("read-back content does not match write-then-append")
	}
}

func TestDeleteFileInvariant(t *testing.T) {
	vol := formatTestVolume(t, 256)
	entry, err := vol.CreateFile(vol.RootCluster, "gone.txt")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if _, err := vol.WriteFile(vol.RootCluster, entry, []byte("bye")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := vol.DeleteFile(vol.RootCluster, "gone.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	entries, err := vol.GetDirectoryEntries(vol.RootCluster)
	if err != nil {
		t.Fatalf("GetDirectoryEntries: %v", err)
	}
	if _, ok := findByName(entries, "gone.txt"); ok {
		t.Fatal("deleted file still present in directory listing")
	}
}

func TestResolvePath(t *testing.T) {
	vol := formatTestVolume(t, 512)
	dir, err := vol.CreateDirectory(vol.RootCluster, "docs")
	if err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if _, err := vol.CreateFile(dir.FirstCluster, "readme.txt"); err != nil {
		t.Fatalf("CreateFile in subdirectory: %v", err)
	}

	entry, err := vol.ResolvePath(ustr.MkUstr("/docs/readme.txt"))
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if entry.Name != "readme.txt" {
		t.Fatalf("resolved name = %q, want %q", entry.Name, "readme.txt")
	}
}

func TestResolvePathNotFound(t *testing.T) {
	vol := formatTestVolume(t, 256)
	if _, err := vol.ResolvePath(ustr.MkUstr("/nope.txt")); err == nil {
		t.Fatal("expected error resolving a nonexistent path")
	}
}

func TestClusterChainCycleDetection(t *testing.T) {
	vol := formatTestVolume(t, 256)
	// Point cluster 2 (root, already EOC) at cluster 3, and cluster 3 back
	// at cluster 2, forming a cycle.
	if err := vol.WriteFATEntry(2, 3); err != nil {
		t.Fatalf("WriteFATEntry: %v", err)
	}
	if err := vol.WriteFATEntry(3, 2); err != nil {
		t.Fatalf("WriteFATEntry: %v", err)
	}
	chain, err := vol.ClusterChain(2)
	if err == nil {
		t.Fatal("ClusterChain: expected a cycle error, got nil")
	}
	if len(chain) == 0 || len(chain) > int(vol.ClusterCount)+1 {
		t.Fatalf("ClusterChain returned %d entries, expected cycle to be bounded", len(chain))
	}
}
