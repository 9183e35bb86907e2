package fat32

import (
	"strings"
	"time"

	"palmyraos/kerr"
)

// readDirectoryRaw reads every cluster of the chain rooted at dirCluster and
// concatenates it, giving the full raw directory region to scan for
// entries.
func (v *Volume) readDirectoryRaw(dirCluster uint32) ([]byte, []uint32, error) {
	chain, err := v.ClusterChain(dirCluster)
	if err != nil && len(chain) == 0 {
		return nil, nil, err
	}
	clusterBytes := v.ClusterSizeBytes()
	raw := make([]byte, 0, len(chain)*clusterBytes)
	for _, c := range chain {
		buf := make([]byte, clusterBytes)
		if err := v.readCluster(c, buf); err != nil {
			return nil, nil, err
		}
		raw = append(raw, buf...)
	}
	return raw, chain, nil
}

// GetDirectoryEntries lists the merged LFN/short entries under dirCluster,
// per spec.md §4.9's directory-read operation.
func (v *Volume) GetDirectoryEntries(dirCluster uint32) ([]DirEntry, error) {
	raw, _, err := v.readDirectoryRaw(dirCluster)
	if err != nil {
		return nil, err
	}
	entries := parseDirectoryBlock(raw)
	out := entries[:0]
	for _, e := range entries {
		if e.ShortName11[0] == '.' {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func nameExists(entries []DirEntry, shortName11 string) bool {
	for _, e := range entries {
		if e.ShortName11 == shortName11 {
			return true
		}
	}
	return false
}

func findByName(entries []DirEntry, name string) (DirEntry, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return DirEntry{}, false
}

// entriesPerCluster is how many 32-byte directory records fit in one
// cluster.
func (v *Volume) entriesPerCluster() int { return v.ClusterSizeBytes() / dirEntrySize }

// allocateSlotRun finds (or creates, by extending the chain) count
// consecutive free 32-byte records within the directory rooted at
// dirCluster, and returns the byte offset of the first one within the
// concatenated raw region along with the full (possibly extended) chain.
func (v *Volume) allocateSlotRun(dirCluster uint32, count int) (offset int, chain []uint32, err error) {
	raw, chain, err := v.readDirectoryRaw(dirCluster)
	if err != nil {
		return 0, nil, err
	}

	run := 0
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		free := raw[off] == dirEntryFree || raw[off] == dirEntryEndMark
		if free {
			if run == 0 {
				offset = off
			}
			run++
			if run == count {
				return offset, chain, nil
			}
		} else {
			run = 0
		}
	}

	// Not enough room: extend the chain by one cluster.
	newCluster, err := v.AllocateCluster()
	if err != nil {
		return 0, nil, err
	}
	if len(chain) == 0 {
		if err := v.WriteFATEntry(dirCluster, newCluster); err != nil {
			return 0, nil, err
		}
	} else {
		if err := v.LinkCluster(chain[len(chain)-1], newCluster); err != nil {
			return 0, nil, err
		}
	}
	zero := make([]byte, v.ClusterSizeBytes())
	if err := v.writeCluster(newCluster, zero); err != nil {
		return 0, nil, err
	}
	chain = append(chain, newCluster)
	offset = (len(chain) - 1) * v.ClusterSizeBytes()
	if run > 0 {
		offset -= run * dirEntrySize
	}
	return offset, chain, nil
}

// writeEntryBlocks writes consecutive 32-byte records starting at byte
// offset within the directory's (already extended) chain.
func (v *Volume) writeEntryBlocks(chain []uint32, offset int, blocks [][dirEntrySize]byte) error {
	clusterBytes := v.ClusterSizeBytes()
	for i, blk := range blocks {
		pos := offset + i*dirEntrySize
		clusterIdx := pos / clusterBytes
		withinCluster := pos % clusterBytes
		if clusterIdx >= len(chain) {
			return kerr.Wrap(kerr.ErrCorrupted, "fat32: directory entry offset beyond chain")
		}
		buf := make([]byte, clusterBytes)
		if err := v.readCluster(chain[clusterIdx], buf); err != nil {
			return err
		}
		copy(buf[withinCluster:withinCluster+dirEntrySize], blk[:])
		if err := v.writeCluster(chain[clusterIdx], buf); err != nil {
			return err
		}
	}
	return nil
}

// markEntryFree overwrites the short entry (and its preceding LFN entries)
// at the given chain/offset with the free marker 0xE5.
func (v *Volume) markEntryFree(chain []uint32, offset, lfnCount int) error {
	clusterBytes := v.ClusterSizeBytes()
	first := offset - lfnCount*dirEntrySize
	for pos := first; pos <= offset; pos += dirEntrySize {
		clusterIdx := pos / clusterBytes
		withinCluster := pos % clusterBytes
		if clusterIdx >= len(chain) {
			continue
		}
		buf := make([]byte, clusterBytes)
		if err := v.readCluster(chain[clusterIdx], buf); err != nil {
			return err
		}
		buf[withinCluster] = dirEntryFree
		if err := v.writeCluster(chain[clusterIdx], buf); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) createEntry(dirCluster uint32, name string, attr uint8, cluster uint32, size uint32) (DirEntry, error) {
	entries, err := v.GetDirectoryEntries(dirCluster)
	if err != nil {
		return DirEntry{}, err
	}
	if _, exists := findByName(entries, name); exists {
		return DirEntry{}, kerr.Wrapf(kerr.ErrInvalidArgument, "fat32: %q already exists", name)
	}

	rawEntries := parseDirectoryBlock(mustConcat(v, dirCluster))
	shortName := GenerateShortName(name, func(candidate string) bool {
		return nameExists(rawEntries, candidate)
	})

	now := defaultTimestamp()
	blocks, err := encodeEntry(shortName, attr, cluster, size, now, now, name)
	if err != nil {
		return DirEntry{}, err
	}

	offset, chain, err := v.allocateSlotRun(dirCluster, len(blocks))
	if err != nil {
		return DirEntry{}, err
	}
	if err := v.writeEntryBlocks(chain, offset, blocks); err != nil {
		return DirEntry{}, err
	}

	return DirEntry{
		Name:         name,
		ShortName11:  shortName,
		Attr:         attr,
		FirstCluster: cluster,
		Size:         size,
		Created:      now,
		Modified:     now,
		entryOffset:  offset + (len(blocks)-1)*dirEntrySize,
		lfnCount:     len(blocks) - 1,
	}, nil
}

func mustConcat(v *Volume, dirCluster uint32) []byte {
	raw, _, err := v.readDirectoryRaw(dirCluster)
	if err != nil {
		return nil
	}
	return raw
}

// CreateFile creates a zero-length file entry under dirCluster, per spec.md
// §4.9's "empty-file-no-upfront-cluster rule: a newly created file has
// first_cluster = 0 and size = 0 until first written."
func (v *Volume) CreateFile(dirCluster uint32, name string) (DirEntry, error) {
	return v.createEntry(dirCluster, name, AttrArchive, 0, 0)
}

// CreateDirectory creates a new subdirectory under dirCluster, allocating
// its first cluster and populating the "." and ".." entries, per spec.md
// §4.9.
func (v *Volume) CreateDirectory(dirCluster uint32, name string) (DirEntry, error) {
	newCluster, err := v.AllocateCluster()
	if err != nil {
		return DirEntry{}, err
	}
	zero := make([]byte, v.ClusterSizeBytes())
	if err := v.writeCluster(newCluster, zero); err != nil {
		return DirEntry{}, err
	}

	now := defaultTimestamp()
	dotBlocks, err := encodeEntry(pad83(".", ""), AttrDirectory, newCluster, 0, now, now, "")
	if err != nil {
		return DirEntry{}, err
	}
	parentRef := dirCluster
	if dirCluster == v.RootCluster {
		parentRef = 0
	}
	dotdotBlocks, err := encodeEntry(pad83("..", ""), AttrDirectory, parentRef, 0, now, now, "")
	if err != nil {
		return DirEntry{}, err
	}
	buf := make([]byte, v.ClusterSizeBytes())
	copy(buf[0:dirEntrySize], dotBlocks[0][:])
	copy(buf[dirEntrySize:2*dirEntrySize], dotdotBlocks[0][:])
	if err := v.writeCluster(newCluster, buf); err != nil {
		return DirEntry{}, err
	}

	return v.createEntry(dirCluster, name, AttrDirectory, newCluster, 0)
}

// DeleteFile removes name from dirCluster, freeing its cluster chain and
// marking its directory records free, per spec.md §4.9.
func (v *Volume) DeleteFile(dirCluster uint32, name string) error {
	raw, chain, err := v.readDirectoryRaw(dirCluster)
	if err != nil {
		return err
	}
	entries := parseDirectoryBlock(raw)
	target, ok := findByName(entries, name)
	if !ok {
		return kerr.Wrapf(kerr.ErrNotFound, "fat32: %q not found", name)
	}
	if target.FirstCluster != 0 {
		if err := v.FreeChain(target.FirstCluster); err != nil {
			return err
		}
	}
	return v.markEntryFree(chain, target.entryOffset, target.lfnCount)
}

// updateEntrySizeAndCluster rewrites the short-entry fields for size and
// first_cluster in place, leaving any preceding LFN entries untouched.
func (v *Volume) updateEntrySizeAndCluster(dirCluster uint32, entry DirEntry, newSize, newCluster uint32, modified time.Time) error {
	_, chain, err := v.readDirectoryRaw(dirCluster)
	if err != nil {
		return err
	}
	clusterBytes := v.ClusterSizeBytes()
	pos := entry.entryOffset
	clusterIdx := pos / clusterBytes
	within := pos % clusterBytes
	if clusterIdx >= len(chain) {
		return kerr.Wrap(kerr.ErrCorrupted, "fat32: entry offset beyond directory chain")
	}
	buf := make([]byte, clusterBytes)
	if err := v.readCluster(chain[clusterIdx], buf); err != nil {
		return err
	}
	rec := buf[within : within+dirEntrySize]
	putUint16At(rec, 20, uint16(newCluster>>16))
	putUint16At(rec, 26, uint16(newCluster))
	putUint32At(rec, 28, newSize)
	putUint16At(rec, 22, packTime(modified))
	putUint16At(rec, 24, packDate(modified))
	return v.writeCluster(chain[clusterIdx], buf)
}

func putUint16At(b []byte, off int, v uint16) { b[off] = uint8(v); b[off+1] = uint8(v >> 8) }
func putUint32At(b []byte, off int, v uint32) {
	b[off] = uint8(v)
	b[off+1] = uint8(v >> 8)
	b[off+2] = uint8(v >> 16)
	b[off+3] = uint8(v >> 24)
}

// WriteFile replaces the entire contents of entry with data, allocating or
// freeing clusters to match, per spec.md §4.9.
func (v *Volume) WriteFile(dirCluster uint32, entry DirEntry, data []byte) (DirEntry, error) {
	if entry.FirstCluster != 0 {
		if err := v.FreeChain(entry.FirstCluster); err != nil {
			return entry, err
		}
		entry.FirstCluster = 0
		entry.Size = 0
		// Flush the zeroed entry before attempting the new chain write, per
		// spec.md §4.9: a failure below must leave the file empty on disk,
		// never pointing at the chain FreeChain just released.
		now := defaultTimestamp()
		if err := v.updateEntrySizeAndCluster(dirCluster, entry, 0, 0, now); err != nil {
			return entry, err
		}
		entry.Modified = now
	}
	if len(data) == 0 {
		entry.Size = 0
		now := defaultTimestamp()
		if err := v.updateEntrySizeAndCluster(dirCluster, entry, 0, 0, now); err != nil {
			return entry, err
		}
		entry.Modified = now
		return entry, nil
	}

	first, err := v.writeChainFromScratch(data)
	if err != nil {
		return entry, err
	}
	now := defaultTimestamp()
	if err := v.updateEntrySizeAndCluster(dirCluster, entry, uint32(len(data)), first, now); err != nil {
		return entry, err
	}
	entry.FirstCluster = first
	entry.Size = uint32(len(data))
	entry.Modified = now
	return entry, nil
}

func (v *Volume) writeChainFromScratch(data []byte) (uint32, error) {
	clusterBytes := v.ClusterSizeBytes()
	needed := (len(data) + clusterBytes - 1) / clusterBytes

	first, err := v.AllocateCluster()
	if err != nil {
		return 0, err
	}
	prev := first
	clusters := []uint32{first}
	for i := 1; i < needed; i++ {
		c, err := v.AllocateCluster()
		if err != nil {
			return 0, err
		}
		if err := v.LinkCluster(prev, c); err != nil {
			return 0, err
		}
		clusters = append(clusters, c)
		prev = c
	}

	for i, c := range clusters {
		start := i * clusterBytes
		end := start + clusterBytes
		buf := make([]byte, clusterBytes)
		if end > len(data) {
			copy(buf, data[start:])
		} else {
			copy(buf, data[start:end])
		}
		if err := v.writeCluster(c, buf); err != nil {
			return 0, err
		}
	}
	return first, nil
}

// AppendFile appends data after entry's current contents, reusing the
// partially-filled last cluster before allocating new ones, per spec.md
// §4.9: "Append writes into the remaining space of the last cluster before
// allocating new clusters, and updates size only after the data and FAT
// links are durable."
func (v *Volume) AppendFile(dirCluster uint32, entry DirEntry, data []byte) (DirEntry, error) {
	if len(data) == 0 {
		return entry, nil
	}
	if entry.FirstCluster == 0 {
		return v.WriteFile(dirCluster, entry, data)
	}

	clusterBytes := v.ClusterSizeBytes()
	chain, err := v.ClusterChain(entry.FirstCluster)
	if err != nil && len(chain) == 0 {
		return entry, err
	}
	last := chain[len(chain)-1]

	usedInLast := int(entry.Size) % clusterBytes
	if entry.Size != 0 && usedInLast == 0 {
		usedInLast = clusterBytes
	}
	room := clusterBytes - usedInLast

	remaining := data
	if room > 0 {
		n := room
		if n > len(remaining) {
			n = len(remaining)
		}
		buf := make([]byte, clusterBytes)
		if err := v.readCluster(last, buf); err != nil {
			return entry, err
		}
		copy(buf[usedInLast:usedInLast+n], remaining[:n])
		if err := v.writeCluster(last, buf); err != nil {
			return entry, err
		}
		remaining = remaining[n:]
	}

	prev := last
	for len(remaining) > 0 {
		c, err := v.AllocateCluster()
		if err != nil {
			return entry, err
		}
		if err := v.LinkCluster(prev, c); err != nil {
			return entry, err
		}
		n := clusterBytes
		if n > len(remaining) {
			n = len(remaining)
		}
		buf := make([]byte, clusterBytes)
		copy(buf, remaining[:n])
		if err := v.writeCluster(c, buf); err != nil {
			return entry, err
		}
		remaining = remaining[n:]
		prev = c
	}

	newSize := entry.Size + uint32(len(data))
	now := defaultTimestamp()
	if err := v.updateEntrySizeAndCluster(dirCluster, entry, newSize, entry.FirstCluster, now); err != nil {
		return entry, err
	}
	entry.Size = newSize
	entry.Modified = now
	return entry, nil
}

// ReadFile returns the full contents of entry.
func (v *Volume) ReadFile(entry DirEntry) ([]byte, error) {
	if entry.Size == 0 || entry.FirstCluster == 0 {
		return nil, nil
	}
	return v.ReadClusterChain(entry.FirstCluster, 0, int(entry.Size))
}
