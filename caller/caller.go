// Package caller prints the active goroutine's call stack, used by
// cmd/palmyractl's panic handler to show what led to an invariant
// violation alongside the disassembly at the faulting address.
package caller

import (
	"fmt"
	"runtime"
)

// Callerdump prints the call stack starting at the given skip depth.
func Callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}
