// Package kerr defines the error categories shared by every PalmyraOS kernel
// core package. Categories are sentinel errors; call sites wrap them with
// github.com/pkg/errors to attach context, the same idiom zchee-go-qcow2 uses
// for its own disk-image error paths.
package kerr

import "github.com/pkg/errors"

// Sentinel categories from spec.md §7. Compare with errors.Is, never by
// string or by identity of a wrapped error.
var (
	// ErrOutOfMemory: the heap or frame allocator could not satisfy a request.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrNotFound: an ACPI table, FAT entry, cache entry, bound port, or
	// window id is absent.
	ErrNotFound = errors.New("not found")

	// ErrBusy: an operation could not proceed because a resource is held.
	ErrBusy = errors.New("busy")

	// ErrTimeout: an ATA command, HPET-measured wait, NIC start, ARP
	// resolve, or ICMP ping exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidArgument: caller passed a malformed argument. Most call
	// sites treat this as fatal (see Fatal below); a few propagate it.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeviceError: ATA ERR bit set, NIC error interrupt, or a PCI
	// device read back vendor ID 0xFFFF.
	ErrDeviceError = errors.New("device error")

	// ErrUnsupported: TCP operations on a UDP socket, Linux-only raw ICMP
	// ops, or a FAT12 write.
	ErrUnsupported = errors.New("unsupported")

	// ErrCorrupted: ACPI checksum mismatch, LFN checksum mismatch, or a
	// cycle in a cluster chain. The caller logs a warning and degrades;
	// the operation does not panic.
	ErrCorrupted = errors.New("corrupted")
)

// Wrap attaches msg to err using errors.Wrap, or returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf attaches a formatted message to err, or returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Fatal panics with msg. Used at invariant-violation sites that spec.md §7
// classifies as "indicates a kernel bug, not a recoverable condition": an
// invalid cluster index, a null receive queue on a live socket, a double
// free of an already-free frame.
func Fatal(msg string) {
	panic(msg)
}

// Fatalf panics with a formatted message.
func Fatalf(format string, args ...interface{}) {
	panic(errors.Errorf(format, args...).Error())
}
