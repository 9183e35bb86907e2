package fat32

import (
	"golang.org/x/text/encoding/unicode"

	"palmyraos/kerr"
)

// Each LFN entry carries 13 UTF-16 code units split 5/6/2 across its name
// fields, per spec.md §4.9.
const (
	lfnCharsPerEntry = 13
	attrLongName     = 0x0F
	lfnLastFlag      = 0x40
	lfnSeqMask       = 0x1F
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
var utf16leDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// EncodeLFNName converts a long name to UTF-16 code units, via
// golang.org/x/text/encoding/unicode, padding the final entry with 0x0000
// then 0xFFFF to the 13-char boundary, per spec.md §4.9: "the name is
// null-terminated then padded with 0xFFFF to the next 13-char boundary."
func EncodeLFNName(name string) ([]uint16, error) {
	encoded, err := utf16le.Bytes([]byte(name))
	if err != nil {
		return nil, kerr.Wrap(err, "fat32: encoding LFN name as UTF-16LE")
	}
	units := make([]uint16, len(encoded)/2)
	for i := range units {
		units[i] = uint16(encoded[2*i]) | uint16(encoded[2*i+1])<<8
	}
	units = append(units, 0x0000)
	for len(units)%lfnCharsPerEntry != 0 {
		units = append(units, 0xFFFF)
	}
	return units, nil
}

// DecodeLFNUnits reassembles a long name from the concatenated UTF-16 code
// units of its LFN entries, stopping at the first null terminator.
func DecodeLFNUnits(units []uint16) (string, error) {
	end := len(units)
	for i, u := range units {
		if u == 0x0000 {
			end = i
			break
		}
	}
	units = units[:end]
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		raw[2*i] = uint8(u)
		raw[2*i+1] = uint8(u >> 8)
	}
	out, err := utf16leDecoder.Bytes(raw)
	if err != nil {
		return "", kerr.Wrap(err, "fat32: decoding LFN UTF-16LE name")
	}
	return string(out), nil
}

// lfnEntryUnits splits the full unit sequence into per-entry 13-unit groups,
// indexed from 0 (group 0 holds the first 13 units and goes in the entry
// physically closest to the short-name entry),
// per spec.md §4.9's storage order: "LFN entries precede the short-name
// entry on disk, ordered from the last fragment down to the first."
func lfnEntryUnits(all []uint16, entryIndex int) []uint16 {
	start := entryIndex * lfnCharsPerEntry
	end := start + lfnCharsPerEntry
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		return nil
	}
	return all[start:end]
}

func numLFNEntries(units []uint16) int {
	return (len(units) + lfnCharsPerEntry - 1) / lfnCharsPerEntry
}
