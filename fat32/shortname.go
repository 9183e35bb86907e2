package fat32

import (
	"fmt"
	"strings"
)

// shortNameLegal reports whether r is in the legal character set for an
// 8.3 name, per spec.md
// §4.9: "illegal characters are replaced with '_'."
func shortNameLegal(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("$%'-_@~`!(){}^#&", r):
		return true
	}
	return false
}

// baseExt splits a long name into its base and extension, the way the
// last '.' in the name is treated as the extension separator.
func baseExt(name string) (base, ext string) {
	name = strings.TrimRight(name, ". ")
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

func sanitize(s string, max int) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		if r == ' ' {
			continue
		}
		if shortNameLegal(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// GenerateShortName builds the 8.3 entry name for longName, per spec.md
// §4.9. A "~N" numeric tail (~1, ~2, ...), truncating the base to make room,
// is appended when the plain 8.3 form already exists, and also whenever
// longName needs an LFN (base longer than 8 or extension longer than 3,
// lowercase letters, or characters sanitize replaces).
func GenerateShortName(longName string, exists func(string) bool) string {
	base, ext := baseExt(longName)
	sBase := sanitize(base, 8)
	sExt := sanitize(ext, 3)
	if sBase == "" {
		sBase = "_"
	}

	needsLFN := requiresLFN(longName, sBase, sExt)
	if !needsLFN {
		candidate := pad83(sBase, sExt)
		if !exists(candidate) {
			return candidate
		}
	}

	for n := 1; n < 1000000; n++ {
		tail := fmt.Sprintf("~%d", n)
		truncBase := sBase
		if len(truncBase)+len(tail) > 8 {
			truncBase = truncBase[:8-len(tail)]
		}
		candidate := pad83(truncBase+tail, sExt)
		if !exists(candidate) {
			return candidate
		}
	}
	return pad83(sBase, sExt)
}

func requiresLFN(longName, sBase, sExt string) bool {
	base, ext := baseExt(longName)
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	if strings.ToUpper(base) != base || strings.ToUpper(ext) != ext {
		return true
	}
	return sanitize(base, 8) != strings.ToUpper(base) || sanitize(ext, 3) != strings.ToUpper(ext)
}

// pad83 produces the fixed 11-byte on-disk short-name field (8 name + 3 ext,
// space-padded).
func pad83(base, ext string) string {
	b := (base + "        ")[:8]
	e := (ext + "   ")[:3]
	return b + e
}

// ShortNameChecksum computes the LFN checksum of an 11-byte short name, per
// spec.md §4.9: "checksum = for each of the 11 bytes, rotate-right the
// running sum by one bit and add the byte."
func ShortNameChecksum(shortName11 string) uint8 {
	var sum uint8
	for i := 0; i < 11; i++ {
		var b uint8
		if i < len(shortName11) {
			b = shortName11[i]
		} else {
			b = ' '
		}
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}
