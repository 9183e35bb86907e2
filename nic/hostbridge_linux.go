//go:build linux

package nic

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"palmyraos/kerr"
)

// tunPath is the cloning device every Linux TUN/TAP interface is created
// through.
const tunPath = "/dev/net/tun"

// ifReqFlags mirrors the name+flags prefix of struct ifreq (linux/if.h)
// that TUNSETIFF reads; the union member at the same offset as sockaddr
// carries short_flags here, padded out to the kernel's sizeof(ifreq).
type ifReqFlags struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte
}

// HostBridge relays a Controller's frames to and from a Linux TAP
// interface. The real driver has a physical wire to arbitrate; this
// hosted build has none, so HostBridge is the substitute that lets
// palmyractl and integration tests exchange real Ethernet frames with the
// host network stack, the same role golang.org/x/sys/unix plays for
// other_examples/runZeroInc-sockstats's pkg/linux/tcpinfo and the vendored
// x/sys/unix tree in caddyserver-caddy (_examples): driving Linux
// device/network state through raw ioctls no higher-level net package
// exposes.
type HostBridge struct {
	fd   int
	name string
	ctrl *Controller
}

// NewHostBridge opens /dev/net/tun and binds (creating if necessary) the
// named interface in IFF_TAP|IFF_NO_PI mode, delivering whole Ethernet
// frames with no additional packet-info header.
func NewHostBridge(name string) (*HostBridge, error) {
	fd, err := unix.Open(tunPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, kerr.Wrapf(err, "nic: opening %s", tunPath)
	}
	var req ifReqFlags
	copy(req.name[:], name)
	req.flags = unix.IFF_TAP | unix.IFF_NO_PI
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		unix.Close(fd)
		return nil, kerr.Wrapf(errno, "nic: TUNSETIFF %s", name)
	}
	return &HostBridge{fd: fd, name: name}, nil
}

// Attach wires frame for this bridge's TAP device to ctrl: outgoing
// Transmit calls are written to the TAP fd, and Run injects frames read
// from the TAP fd into ctrl's receive path.
func (b *HostBridge) Attach(ctrl *Controller) {
	b.ctrl = ctrl
	ctrl.OnTransmit(func(frame []byte) {
		_, _ = unix.Write(b.fd, frame)
	})
}

// Run reads frames from the TAP device and injects them into the attached
// Controller until stop is closed. Call Attach first.
func (b *HostBridge) Run(stop <-chan struct{}) {
	buf := make([]byte, BufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := unix.Read(b.fd, buf)
		if err != nil {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		b.ctrl.InjectReceivedFrame(frame)
		b.ctrl.SignalInterrupt()
	}
}

// Close releases the TAP file descriptor.
func (b *HostBridge) Close() error {
	return unix.Close(b.fd)
}
