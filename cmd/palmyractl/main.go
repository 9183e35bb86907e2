// Command palmyractl exercises the PalmyraOS kernel core against an
// in-memory ATA disk and a simulated NIC, the one binary this core has per spec.md §6.
//
// Grounded on biscuit/src/kernel/chentry.go's role as the teacher's single
// command-line entry point into otherwise library-shaped kernel packages,
// generalized from its bare os.Args/strconv parsing to the standard flag
// package (no config/flags library appears anywhere in the retrieval
// pack).
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"

	"golang.org/x/arch/x86/x86asm"

	"palmyraos/ata"
	"palmyraos/caller"
	"palmyraos/fat32"
	"palmyraos/kheap"
	"palmyraos/klog"
	"palmyraos/mem"
	"palmyraos/netstack"
	"palmyraos/paging"
	"palmyraos/ustr"
)

func main() {
	var (
		diskImage = flag.String("disk", "", "path to a FAT32 disk image (accepted but not read: this build has no file-backed drive)")
		sectors   = flag.Uint64("sectors", 65536, "sector count for the zeroed, unformatted in-memory disk")
		heapProf  = flag.String("pprof", "", "write a heap profile to this path before exit")
		disasmVA  = flag.Uint64("disasm", 0, "disassemble 64 bytes of kernel code at this (simulated) virtual address on panic")
		lookup    = flag.String("path", "", "a '/'-separated path to resolve from the mounted volume's root, e.g. /docs/readme.txt")
		netDemo   = flag.Bool("net", false, "bring up a simulated NIC/ARP/IPv4/ICMP/UDP/DNS stack and resolve the gateway's MAC")
	)
	flag.Parse()

	if *heapProf != "" {
		defer writeHeapProfile(*heapProf)
	}
	frames := mem.New(0, uintptr(*sectors)*mem.PageSize)
	kernelDir := paging.NewKernelDirectory(frames)
	heap := kheap.New(kernelDir)

	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("palmyractl: panic: %v", r)
			caller.Callerdump(2)
			if *disasmVA != 0 {
				disassembleAt(heap, uintptr(*disasmVA))
			}
			os.Exit(1)
		}
	}()

	drive := ata.NewSimDrive(uint32(*sectors))
	device := ata.New(drive, 0x1F0, ata.Master)
	vdisk := ata.NewVirtualDisk(device, 0, uint32(*sectors))

	if *diskImage != "" {
		klog.Infof("palmyractl: -disk is accepted but this build has no host file-backed drive wired; using an in-memory disk of %d sectors instead", *sectors)
	}

	vol, err := fat32.Mount(vdisk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "palmyractl: mount failed (expected on an unformatted image): %v\n", err)
		return
	}

	entries, err := vol.GetDirectoryEntries(vol.RootCluster)
	if err != nil {
		fmt.Fprintf(os.Stderr, "palmyractl: reading root directory: %v\n", err)
		return
	}
	for _, e := range entries {
		fmt.Printf("%-40s %8d bytes\n", e.Name, e.Size)
	}

	if *lookup != "" {
		entry, err := vol.ResolvePath(ustr.MkUstr(*lookup))
		if err != nil {
			fmt.Fprintf(os.Stderr, "palmyractl: resolving %q: %v\n", *lookup, err)
			return
		}
		fmt.Printf("resolved %s: %-40s %8d bytes\n", *lookup, entry.Name, entry.Size)
	}

	if *netDemo {
		localIP := netstack.IPv4Addr{192, 168, 1, 10}
		mask := netstack.IPv4Addr{255, 255, 255, 0}
		gateway := netstack.IPv4Addr{192, 168, 1, 1}
		mac := [6]byte{0x52, 0x54, 0x00, 0x01, 0x02, 0x03}

		stack, err := bringUpNetStack(mac, localIP, mask, gateway)
		if err != nil {
			fmt.Fprintf(os.Stderr, "palmyractl: bringing up net stack: %v\n", err)
			return
		}
		defer stack.Close()

		fmt.Printf("net stack up: mac=%x ip=%v clock=%s\n", mac, localIP, stack.Timer.Now())
		if gwMAC, err := stack.Iface.ARP.Resolve(gateway); err != nil {
			fmt.Fprintf(os.Stderr, "palmyractl: resolving gateway %v: %v\n", gateway, err)
		} else {
			fmt.Printf("gateway %v is at %x\n", gateway, gwMAC)
		}
	}
}

func writeHeapProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		klog.Errorf("palmyractl: creating heap profile %q: %v", path, err)
		return
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		klog.Errorf("palmyractl: writing heap profile: %v", err)
	}
}

// disassembleAt decodes a handful of instructions starting at va, the debug
// aid spec.md §9's panic-on-invariant-violation rule calls for: when an
// interior invariant breaks, show the surrounding code rather than just the
// Go panic stack. This hosted build has no ring-0 address space, so va is
// read as an offset into the kernel heap's arena (the one real,
// host-process-backed memory region this build has) via heap.Peek; bytes
// there are whatever the FAT32/net-stack exercise above left behind, not
// genuine instruction bytes, but the flag exercises the real decode path
// against real process memory instead of a disconnected stub.
func disassembleAt(heap *kheap.Heap, va uintptr) {
	window := heap.Peek(va, 64)
	if len(window) == 0 {
		fmt.Printf("  %#08x: outside heap arena bounds\n", va)
		return
	}
	offset := 0
	for offset < len(window) {
		inst, err := x86asm.Decode(window[offset:], 32)
		if err != nil {
			break
		}
		fmt.Printf("  %#08x: %s\n", uint64(va)+uint64(offset), x86asm.GNUSyntax(inst, uint64(va)+uint64(offset), nil))
		offset += inst.Len
	}
}
