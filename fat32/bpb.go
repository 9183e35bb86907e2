// Package fat32 implements the FAT32 filesystem (spec.md §4.9, L4): BPB
// parsing, cluster allocation, FAT chain read/write, directory traversal,
// and LFN encode/decode.
//
// Grounded on biscuit/src/fs/blk.go's disk-block abstraction (Disk_i,
// fixed-size sector buffers) and biscuit/src/fs/super.go's field-offset
// accessor style, applied here directly to the documented BPB byte offsets
// of spec.md §6. Supplemented from
// original_source/PalmyraOS/source/core/files/partitions/Fat32.cpp for the
// exact SFN-collision and LFN-padding edge cases the distilled spec only
// summarizes (see DESIGN.md).
package fat32

import (
	"encoding/binary"

	"palmyraos/ata"
	"palmyraos/kerr"
)

// BPB is the parsed BIOS Parameter Block, fields at the byte offsets of
// spec.md §6: "sector size @11, sectors/cluster @13, reserved sectors @14,
// FAT count @16, total sectors32 @32, FAT size32 @36, root cluster @44,
// volume label @71, fs type @82."
type BPB struct {
	BytesPerSector   uint16
	SectorsPerCluster uint8
	ReservedSectors  uint16
	NumFATs          uint8
	TotalSectors32   uint32
	FATSize32        uint32
	RootCluster      uint32
	VolumeLabel      string
	FSType           string
}

// ParseBPB parses sector 0 of the volume.
func ParseBPB(sector []byte) (BPB, error) {
	if len(sector) < 90 {
		return BPB{}, kerr.Wrap(kerr.ErrCorrupted, "fat32: BPB sector too short")
	}
	b := BPB{
		BytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		NumFATs:           sector[16],
		TotalSectors32:    binary.LittleEndian.Uint32(sector[32:36]),
		FATSize32:         binary.LittleEndian.Uint32(sector[36:40]),
		RootCluster:       binary.LittleEndian.Uint32(sector[44:48]),
		VolumeLabel:       trimLabel(sector[71:82]),
		FSType:            string(sector[82:90]),
	}
	return b, nil
}

func trimLabel(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}

// IsFAT32 reports whether the parsed FSType names this volume FAT32, versus
// the "recognized but not supported" FAT12/16 spec.md §4.9's open question
// asks us to refuse consistently.
func (b BPB) IsFAT32() bool {
	return len(b.FSType) >= 5 && b.FSType[:5] == "FAT32"
}

// Volume is the live, mounted FAT32 filesystem state, spec.md §3: "{
// virtual_disk, sector_size, cluster_sectors, reserved_sectors, fat_count,
// fat_size_sectors, root_cluster, cluster_count }."
type Volume struct {
	Disk            *ata.VirtualDisk
	SectorSize      int
	ClusterSectors  int
	ReservedSectors int
	FATCount        int
	FATSizeSectors  int
	RootCluster     uint32
	ClusterCount    uint32

	firstFATSector   uint32
	firstDataSector  uint32
}

// FirstDataSector returns reserved_sectors + fat_count*fat_size_sectors.
func (v *Volume) FirstDataSector() uint32 { return v.firstDataSector }

// ClusterSizeBytes returns cluster_sectors * sector_size.
func (v *Volume) ClusterSizeBytes() int { return v.ClusterSectors * v.SectorSize }

// ClusterToSector maps cluster c to its first sector, per spec.md §4.9: "A
// cluster number c maps to sector first_data_sector + (c-2) * cluster_sectors."
func (v *Volume) ClusterToSector(c uint32) uint32 {
	if c < 2 {
		kerr.Fatalf("fat32: invalid cluster index %d", c)
	}
	return v.firstDataSector + (c-2)*uint32(v.ClusterSectors)
}

// Mount validates the BPB and builds the live Volume. FAT12/16 volumes are
// refused at mount time, per the Open Question resolution recorded in
// SPEC_FULL.md §5.1: refusing early is the more conservative, consistent
// choice.
func Mount(disk *ata.VirtualDisk) (*Volume, error) {
	sector := make([]byte, ata.SectorSize)
	if err := disk.ReadSector(0, sector, 0); err != nil {
		return nil, kerr.Wrap(err, "fat32: reading BPB sector")
	}
	bpb, err := ParseBPB(sector)
	if err != nil {
		return nil, err
	}
	if !bpb.IsFAT32() {
		return nil, kerr.Wrap(kerr.ErrUnsupported, "fat32: FAT12/16 volumes are refused at mount")
	}
	if bpb.BytesPerSector == 0 || bpb.SectorsPerCluster == 0 {
		return nil, kerr.Wrap(kerr.ErrCorrupted, "fat32: zero sector/cluster size in BPB")
	}

	v := &Volume{
		Disk:            disk,
		SectorSize:      int(bpb.BytesPerSector),
		ClusterSectors:  int(bpb.SectorsPerCluster),
		ReservedSectors: int(bpb.ReservedSectors),
		FATCount:        int(bpb.NumFATs),
		FATSizeSectors:  int(bpb.FATSize32),
		RootCluster:     bpb.RootCluster,
	}
	v.firstFATSector = uint32(v.ReservedSectors)
	v.firstDataSector = uint32(v.ReservedSectors) + uint32(v.FATCount)*uint32(v.FATSizeSectors)
	dataSectors := bpb.TotalSectors32 - v.firstDataSector
	v.ClusterCount = dataSectors / uint32(v.ClusterSectors)
	return v, nil
}
