package ata

import (
	"time"

	"palmyraos/kerr"
)

// VirtualDisk is a bounds-checked logical window into an ATA device, per
// spec.md §4.8 and §3: "(ata_device, start_lba, sector_count) ... All
// reads/writes are bounds-checked against the window."
type VirtualDisk struct {
	Device     *Device
	StartLBA   uint32
	SectorCount uint32
}

// NewVirtualDisk constructs the logical window.
func NewVirtualDisk(dev *Device, startLBA, sectorCount uint32) *VirtualDisk {
	return &VirtualDisk{Device: dev, StartLBA: startLBA, SectorCount: sectorCount}
}

func (vd *VirtualDisk) translate(lba uint32) (uint32, error) {
	if lba >= vd.SectorCount {
		return 0, kerr.Wrapf(kerr.ErrInvalidArgument, "vdisk: lba %d out of window [0,%d)", lba, vd.SectorCount)
	}
	return vd.StartLBA + lba, nil
}

// ReadSector takes lba relative to the window's start, rejects
// lba >= SectorCount, and reads sector StartLBA+lba from the underlying ATA
// device, per spec.md §4.8.
func (vd *VirtualDisk) ReadSector(lba uint32, buf []byte, timeout time.Duration) error {
	abs, err := vd.translate(lba)
	if err != nil {
		return err
	}
	return vd.Device.ReadSector(abs, buf, timeout)
}

// WriteSector is the write counterpart of ReadSector.
func (vd *VirtualDisk) WriteSector(lba uint32, buf []byte, timeout time.Duration) error {
	abs, err := vd.translate(lba)
	if err != nil {
		return err
	}
	return vd.Device.WriteSector(abs, buf, timeout)
}
