package fat32

import (
	"encoding/binary"

	"palmyraos/kerr"
	"palmyraos/klog"
)

// entriesPerSector is how many 32-bit FAT entries fit in one sector.
func (v *Volume) entriesPerSector() uint32 { return uint32(v.SectorSize) / 4 }

const (
	fatFree      = 0x00000000
	fatEOCMin    = 0x0FFFFFF8
	fatEntryMask = 0x0FFFFFFF
)

// IsEndOfChain reports whether a FAT entry value is the end-of-chain
// sentinel, per spec.md §4.9: "End-of-chain sentinel is >= 0x0FFFFFF8."
func IsEndOfChain(v uint32) bool { return v&fatEntryMask >= fatEOCMin }

func (v *Volume) fatEntrySectorOffset(cluster uint32, fatIndex int) (sector uint32, off int) {
	perSector := v.entriesPerSector()
	sector = v.firstFATSector + uint32(fatIndex)*uint32(v.FATSizeSectors) + cluster/perSector
	off = int(cluster%perSector) * 4
	return
}

// ReadFATEntry returns the FAT[0] value for cluster.
func (v *Volume) ReadFATEntry(cluster uint32) (uint32, error) {
	sector, off := v.fatEntrySectorOffset(cluster, 0)
	buf := make([]byte, v.SectorSize)
	if err := v.Disk.ReadSector(sector, buf, 0); err != nil {
		return 0, kerr.Wrap(err, "fat32: reading FAT sector")
	}
	return binary.LittleEndian.Uint32(buf[off:off+4]) & fatEntryMask, nil
}

// WriteFATEntry writes value into every FAT copy for cluster, per spec.md
// §4.9: "The FAT is the single source of truth ... When multiple FAT copies
// exist, writes go to all."
func (v *Volume) WriteFATEntry(cluster uint32, value uint32) error {
	for i := 0; i < v.FATCount; i++ {
		sector, off := v.fatEntrySectorOffset(cluster, i)
		buf := make([]byte, v.SectorSize)
		if err := v.Disk.ReadSector(sector, buf, 0); err != nil {
			return kerr.Wrap(err, "fat32: reading FAT sector for RMW")
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], value&fatEntryMask)
		if err := v.Disk.WriteSector(sector, buf, 0); err != nil {
			return kerr.Wrap(err, "fat32: writing FAT sector")
		}
	}
	return nil
}

// ClusterChain walks the FAT from start, collecting cluster numbers in
// order. It detects cycles by set-membership of already-collected clusters
// and stops rather than looping forever on corrupt media, satisfying
// spec.md §8's "FAT cycle safety: read_cluster_chain terminates in
// <= cluster_count steps for any input."
func (v *Volume) ClusterChain(start uint32) ([]uint32, error) {
	var chain []uint32
	seen := make(map[uint32]bool)
	cur := start
	for !IsEndOfChain(cur) && cur != fatFree {
		if seen[cur] {
			klog.Warnf("fat32: cycle detected in cluster chain at cluster %d", cur)
			return chain, kerr.Wrap(kerr.ErrCorrupted, "fat32: cluster chain cycle")
		}
		if uint32(len(chain)) > v.ClusterCount {
			klog.Warnf("fat32: cluster chain exceeds cluster_count, truncating")
			return chain, kerr.Wrap(kerr.ErrCorrupted, "fat32: cluster chain too long")
		}
		seen[cur] = true
		chain = append(chain, cur)
		next, err := v.ReadFATEntry(cur)
		if err != nil {
			return chain, err
		}
		cur = next
	}
	return chain, nil
}

// ReadClusterChain reads size bytes starting at offset bytes into the chain
// rooted at start, per spec.md §4.9: walks the FAT collecting
// ceil(size/cluster_bytes) clusters after skipping floor(offset/cluster_bytes).
func (v *Volume) ReadClusterChain(start uint32, offset, size int) ([]byte, error) {
	clusterBytes := v.ClusterSizeBytes()
	skip := offset / clusterBytes
	need := (size + clusterBytes - 1) / clusterBytes
	if (offset%clusterBytes)+size > 0 && need == 0 {
		need = 1
	}

	chain, err := v.ClusterChain(start)
	if err != nil && len(chain) == 0 {
		return nil, err
	}
	if skip >= len(chain) {
		return nil, nil
	}
	end := skip + need
	if end > len(chain) {
		end = len(chain)
	}
	wanted := chain[skip:end]

	out := make([]byte, 0, len(wanted)*clusterBytes)
	for _, c := range wanted {
		buf := make([]byte, clusterBytes)
		if err := v.readCluster(c, buf); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}
	innerOff := offset % clusterBytes
	if innerOff > len(out) {
		innerOff = len(out)
	}
	out = out[innerOff:]
	if len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (v *Volume) readCluster(cluster uint32, buf []byte) error {
	baseSector := v.ClusterToSector(cluster)
	for s := 0; s < v.ClusterSectors; s++ {
		chunk := buf[s*v.SectorSize : (s+1)*v.SectorSize]
		if err := v.Disk.ReadSector(baseSector+uint32(s), chunk, 0); err != nil {
			return kerr.Wrap(err, "fat32: reading cluster data")
		}
	}
	return nil
}

func (v *Volume) writeCluster(cluster uint32, buf []byte) error {
	baseSector := v.ClusterToSector(cluster)
	for s := 0; s < v.ClusterSectors; s++ {
		chunk := buf[s*v.SectorSize : (s+1)*v.SectorSize]
		if err := v.Disk.WriteSector(baseSector+uint32(s), chunk, 0); err != nil {
			return kerr.Wrap(err, "fat32: writing cluster data")
		}
	}
	return nil
}

// AllocateCluster performs a linear scan from cluster 2 for the first free
// FAT entry, marks it end-of-chain, and returns its number, per spec.md
// §4.9.
func (v *Volume) AllocateCluster() (uint32, error) {
	for c := uint32(2); c < v.ClusterCount+2; c++ {
		entry, err := v.ReadFATEntry(c)
		if err != nil {
			return 0, err
		}
		if entry == fatFree {
			if err := v.WriteFATEntry(c, fatEOCMin); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, kerr.ErrOutOfMemory
}

// LinkCluster updates prev's FAT entry to point at next, then marks next
// end-of-chain, per spec.md §4.9: "When linking to a predecessor, update the
// predecessor's FAT entry to point to the new cluster, then mark the new
// cluster end-of-chain."
func (v *Volume) LinkCluster(prev, next uint32) error {
	if err := v.WriteFATEntry(prev, next); err != nil {
		return err
	}
	return v.WriteFATEntry(next, fatEOCMin)
}

// FreeChain walks from start, zeroing each cluster's FAT entry in turn,
// stopping at end-of-chain or a cycle, per spec.md §4.9.
func (v *Volume) FreeChain(start uint32) error {
	cur := start
	seen := make(map[uint32]bool)
	for !IsEndOfChain(cur) && cur != fatFree {
		if seen[cur] {
			klog.Warnf("fat32: cycle detected while freeing chain at cluster %d", cur)
			return kerr.Wrap(kerr.ErrCorrupted, "fat32: cycle while freeing chain")
		}
		seen[cur] = true
		next, err := v.ReadFATEntry(cur)
		if err != nil {
			return err
		}
		if err := v.WriteFATEntry(cur, fatFree); err != nil {
			return err
		}
		cur = next
	}
	return nil
}
