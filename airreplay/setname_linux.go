//go:build linux

package airreplay

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// SetThreadName best-effort names the calling OS thread, the Go equivalent
// of spec §4.E's "thread's name is set via an OS-level facility where
// available." Go goroutines aren't pinned to OS threads, so the name is
// necessarily approximate; this is a diagnostics aid, not a contract, and
// errors are ignored.
func SetThreadName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	b := append([]byte(name), 0)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}
