package fat32

import (
	"encoding/binary"
	"time"

	"palmyraos/klog"
)

const dirEntrySize = 32

// Directory entry attribute bits.
const (
	AttrReadOnly = 0x01
	AttrHidden   = 0x02
	AttrSystem   = 0x04
	AttrVolumeID = 0x08
	AttrDirectory = 0x10
	AttrArchive  = 0x20
)

const (
	dirEntryFree    = 0xE5
	dirEntryEndMark = 0x00
)

// DirEntry is the logical, already-LFN-merged view of one filesystem entry,
// per spec.md §3: "{ name, attributes, first_cluster, size, created,
// modified }."
type DirEntry struct {
	Name         string
	ShortName11  string
	Attr         uint8
	FirstCluster uint32
	Size         uint32
	Created      time.Time
	Modified     time.Time

	// entryOffset is the byte offset (within the directory's cluster
	// data) of the short-name entry, and lfnCount how many LFN entries
	// precede it, for callers that need to rewrite or delete this entry.
	entryOffset int
	lfnCount    int
}

// IsDir reports whether the entry is a subdirectory.
func (e DirEntry) IsDir() bool { return e.Attr&AttrDirectory != 0 }

func fatDate(d uint16) (year int, month time.Month, day int) {
	year = 1980 + int(d>>9)
	month = time.Month((d >> 5) & 0x0F)
	day = int(d & 0x1F)
	if month < 1 {
		month = 1
	}
	if day < 1 {
		day = 1
	}
	return
}

func fatTime(t uint16) (hour, min, sec int) {
	hour = int(t >> 11)
	min = int((t >> 5) & 0x3F)
	sec = int((t & 0x1F) * 2)
	return
}

func packDate(t time.Time) uint16 {
	y := t.Year() - 1980
	if y < 0 {
		y = 0
	}
	return uint16(y)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

func packTime(t time.Time) uint16 {
	return uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
}

func fatTimestamp(date, clock uint16) time.Time {
	y, mo, d := fatDate(date)
	h, mi, s := fatTime(clock)
	return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
}

// defaultTimestamp is spec.md §4.9's fixed stand-in for a wall clock this
// kernel has no battery-backed RTC access to: "newly created entries use a
// fixed timestamp of 2020-01-01 12:00:00."
func defaultTimestamp() time.Time {
	return time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC)
}

func parseShortEntry(raw []byte, offset, lfnCount int, longName string) DirEntry {
	attr := raw[11]
	ntRes := raw[12]
	fstClusHI := binary.LittleEndian.Uint16(raw[20:22])
	fstClusLO := binary.LittleEndian.Uint16(raw[26:28])
	cluster := uint32(fstClusHI)<<16 | uint32(fstClusLO)
	size := binary.LittleEndian.Uint32(raw[28:32])
	crtDate := binary.LittleEndian.Uint16(raw[16:18])
	crtTime := binary.LittleEndian.Uint16(raw[14:16])
	wrtDate := binary.LittleEndian.Uint16(raw[24:26])
	wrtTime := binary.LittleEndian.Uint16(raw[22:24])

	short := string(raw[0:11])
	name := longName
	if name == "" {
		name = shortNameDisplay(short, ntRes)
	}

	return DirEntry{
		Name:         name,
		ShortName11:  short,
		Attr:         attr,
		FirstCluster: cluster,
		Size:         size,
		Created:      fatTimestamp(crtDate, crtTime),
		Modified:     fatTimestamp(wrtDate, wrtTime),
		entryOffset:  offset,
		lfnCount:     lfnCount,
	}
}

// NT reserved-case bits at offset 12 of the 32-byte short entry (spec.md
// §4.9: "uppercased, possibly lowercased per NT-reserved bits 3 and 4").
const (
	ntResLowerExt  = 0x08 // bit 3: lower-case the 3-char extension on display
	ntResLowerBase = 0x10 // bit 4: lower-case the 8-char base on display
)

// shortNameDisplay renders the padded 11-byte short name as "NAME.EXT" for
// entries that carry no LFN, folding base/extension to lower case per the
// NT reserved-case bits the short entry's ntRes byte carries.
func shortNameDisplay(short string, ntRes uint8) string {
	base := trimTrailing(short[:8])
	ext := trimTrailing(short[8:11])
	if ntRes&ntResLowerBase != 0 {
		base = toLowerASCII(base)
	}
	if ntRes&ntResLowerExt != 0 {
		ext = toLowerASCII(ext)
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func trimTrailing(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}

// parseDirectoryBlock walks a contiguous region of 32-byte raw entries,
// reassembling LFN sequences and merging each with its trailing short
// entry, per spec.md §4.9: "Long names are split across preceding LFN
// entries ... A short entry's logical name is the merged LFN text, falling
// back to the short name itself when no LFN precedes it."
func parseDirectoryBlock(raw []byte) []DirEntry {
	var entries []DirEntry
	var pendingUnits []uint16
	var pendingChecksum uint8
	havePending := false

	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		rec := raw[off : off+dirEntrySize]
		if rec[0] == dirEntryEndMark {
			break
		}
		if rec[0] == dirEntryFree {
			pendingUnits = nil
			havePending = false
			continue
		}
		if rec[11] == attrLongName {
			seq := rec[0] &^ lfnLastFlag
			checksum := rec[13]
			units := lfnUnitsFromRecord(rec)
			if rec[0]&lfnLastFlag != 0 {
				pendingUnits = make([]uint16, int(seq)*lfnCharsPerEntry)
				pendingChecksum = checksum
				havePending = true
			}
			if havePending && int(seq) >= 1 && int(seq)*lfnCharsPerEntry <= len(pendingUnits) {
				copy(pendingUnits[(int(seq)-1)*lfnCharsPerEntry:], units)
			}
			continue
		}

		longName := ""
		lfnCount := 0
		if havePending {
			if ShortNameChecksum(string(rec[0:11])) == pendingChecksum {
				if name, err := DecodeLFNUnits(pendingUnits); err == nil {
					longName = name
					lfnCount = numLFNEntries(pendingUnits)
				} else {
					klog.Warnf("fat32: discarding malformed LFN sequence: %v", err)
				}
			} else {
				klog.Warnf("fat32: LFN checksum mismatch, falling back to short name")
			}
		}
		pendingUnits = nil
		havePending = false

		if rec[11]&AttrVolumeID != 0 {
			continue
		}
		entries = append(entries, parseShortEntry(rec, off, lfnCount, longName))
	}
	return entries
}

func lfnUnitsFromRecord(rec []byte) []uint16 {
	units := make([]uint16, 0, lfnCharsPerEntry)
	for _, span := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := span[0]; i < span[1]; i += 2 {
			units = append(units, binary.LittleEndian.Uint16(rec[i:i+2]))
		}
	}
	return units
}

// encodeEntry renders an entry's short-name record (and the LFN records
// that must precede it) as raw 32-byte blocks, LFN fragments ordered from
// last to first as spec.md §4.9 requires on disk.
func encodeEntry(shortName11 string, attr uint8, cluster, size uint32, created, modified time.Time, longName string) ([][dirEntrySize]byte, error) {
	var blocks [][dirEntrySize]byte

	if longName != "" && longName != shortNameDisplay(shortName11, 0) {
		units, err := EncodeLFNName(longName)
		if err != nil {
			return nil, err
		}
		checksum := ShortNameChecksum(shortName11)
		total := numLFNEntries(units)
		for seq := total; seq >= 1; seq-- {
			var rec [dirEntrySize]byte
			ord := uint8(seq)
			if seq == total {
				ord |= lfnLastFlag
			}
			rec[0] = ord
			group := lfnEntryUnits(units, seq-1)
			writeLFNUnits(&rec, group)
			rec[11] = attrLongName
			rec[13] = checksum
			blocks = append(blocks, rec)
		}
	}

	var short [dirEntrySize]byte
	copy(short[0:11], shortName11)
	short[11] = attr
	binary.LittleEndian.PutUint16(short[14:16], packTime(created))
	binary.LittleEndian.PutUint16(short[16:18], packDate(created))
	binary.LittleEndian.PutUint16(short[18:20], packDate(created))
	binary.LittleEndian.PutUint16(short[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(short[22:24], packTime(modified))
	binary.LittleEndian.PutUint16(short[24:26], packDate(modified))
	binary.LittleEndian.PutUint16(short[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(short[28:32], size)
	blocks = append(blocks, short)
	return blocks, nil
}

func writeLFNUnits(rec *[dirEntrySize]byte, units []uint16) {
	padded := make([]uint16, lfnCharsPerEntry)
	copy(padded, units)
	for i := len(units); i < lfnCharsPerEntry; i++ {
		if i == len(units) {
			padded[i] = 0x0000
		} else {
			padded[i] = 0xFFFF
		}
	}
	idx := 0
	for _, span := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := span[0]; i < span[1]; i += 2 {
			binary.LittleEndian.PutUint16(rec[i:i+2], padded[idx])
			idx++
		}
	}
}
