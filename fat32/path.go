package fat32

import (
	"palmyraos/kerr"
	"palmyraos/ustr"
)

// ResolvePath walks a "/"-separated path from the volume's root directory,
// descending one directory level per component, and returns the entry the
// final component names.
//
// Grounded on biscuit/src/ustr's role as the path type fs lookups walk
// component-by-component; generalized from its original inode-tree lookup
// to a FAT32 cluster-chain directory walk.
func (v *Volume) ResolvePath(path ustr.Ustr) (DirEntry, error) {
	parts := ustr.Split(path)
	if len(parts) == 0 {
		return DirEntry{}, kerr.Wrap(kerr.ErrInvalidArgument, "fat32: empty path")
	}

	dirCluster := v.RootCluster
	var entry DirEntry
	for i, part := range parts {
		if part.Isdot() {
			continue
		}
		entries, err := v.GetDirectoryEntries(dirCluster)
		if err != nil {
			return DirEntry{}, kerr.Wrapf(err, "fat32: reading directory for %q", part.String())
		}
		found, ok := findByName(entries, part.String())
		if !ok {
			return DirEntry{}, kerr.Wrapf(kerr.ErrNotFound, "fat32: no such file or directory: %q", part.String())
		}
		entry = found
		if i < len(parts)-1 {
			if !entry.IsDir() {
				return DirEntry{}, kerr.Wrapf(kerr.ErrInvalidArgument, "fat32: %q is not a directory", part.String())
			}
			dirCluster = entry.FirstCluster
		}
	}
	return entry, nil
}
