package acpi

import "palmyraos/klog"

// tripleFault and halt model instructions with no portable Go equivalent
// (loading a null IDT and executing int3; HLT). On real hardware these
// never return; the hosted build logs and blocks forever so callers that
// (incorrectly) expect Reboot/Shutdown to return still observe "never
// returns" behavior rather than silently falling through.
func tripleFault() {
	klog.Errorf("acpi: triple fault requested (null IDT + int3)")
	select {}
}

func halt() {
	klog.Errorf("acpi: halting CPU")
	select {}
}

// apmShutdown issues the APM INT 15h shutdown call. PalmyraOS's target
// hardware is too old for ACPI-only shutdown on some boards, hence the
// fallback spec.md §4.6 describes. The hosted build has no real APM BIOS to
// call into, so this always reports failure, consistent with "finally
// halt" being reachable in the fallback chain.
func apmShutdown() bool {
	return false
}
