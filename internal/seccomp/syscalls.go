//go:build linux && cgo

package seccomp

import (
	"fmt"

	libseccomp "github.com/seccomp/libseccomp-golang"
)

// ResolveSyscall converts a syscall name to its number for the current arch.
func ResolveSyscall(name string) (int, error) {
	nr, err := libseccomp.GetSyscallFromName(name)
	if err != nil {
		return 0, fmt.Errorf("unknown syscall %q: %w", name, err)
	}
	return int(nr), nil
}
