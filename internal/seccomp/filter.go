//go:build linux && cgo

// Package seccomp compiles a syscall allow/deny list into a classic BPF
// program suitable for installation by bwrap's --seccomp flag, and
// transports the compiled program to a spawning child over an anonymous
// pipe (C1, §4.1).
package seccomp

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/agentsh/yfass/pkg/types"
	"golang.org/x/net/bpf"
)

// offset into struct seccomp_data, per <linux/seccomp.h>.
const seccompDataNROffset = 0

// BPF return actions, per <linux/seccomp.h> (SECCOMP_RET_*).
const (
	retKillThread = 0x00000000
	retAllow      = 0x7fff0000
)

// FilterCompileError indicates the assembled program failed validation.
type FilterCompileError struct{ Cause error }

func (e *FilterCompileError) Error() string { return fmt.Sprintf("seccomp filter compile: %v", e.Cause) }
func (e *FilterCompileError) Unwrap() error  { return e.Cause }

// ConfigError indicates a name in the filter list could not be resolved to
// a syscall number on this architecture.
type ConfigError struct{ Syscall string }

func (e *ConfigError) Error() string { return fmt.Sprintf("unknown syscall %q", e.Syscall) }

// Compile builds a BPF program for the given mode and syscall name list.
// Deny mode: default=allow, listed=kill-thread. Allow mode: default=kill,
// listed=allow (§4.1).
func Compile(mode types.FilterMode, names []string) ([]bpf.RawInstruction, error) {
	numbers := make([]int, 0, len(names))
	for _, n := range names {
		nr, err := ResolveSyscall(n)
		if err != nil {
			return nil, &ConfigError{Syscall: n}
		}
		numbers = append(numbers, nr)
	}

	var matchRet, defaultRet uint32
	switch mode {
	case types.FilterDeny:
		matchRet, defaultRet = retKillThread, retAllow
	case types.FilterAllow:
		matchRet, defaultRet = retAllow, retKillThread
	default:
		return nil, &FilterCompileError{Cause: fmt.Errorf("unknown filter mode %q", mode)}
	}

	insts := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataNROffset, Size: 4},
	}
	for i, nr := range numbers {
		// Number of RET instructions to skip past on match: the
		// remaining compares (each contributes one skip) plus the
		// default RET land us on the matching RET.
		remaining := len(numbers) - i - 1
		insts = append(insts, bpf.JumpIf{
			Cond:      bpf.JumpEqual,
			Val:       uint32(nr),
			SkipTrue:  uint8(remaining + 1),
			SkipFalse: 0,
		})
	}
	insts = append(insts, bpf.RetConstant{Val: defaultRet})
	insts = append(insts, bpf.RetConstant{Val: matchRet})

	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, &FilterCompileError{Cause: err}
	}
	return raw, nil
}

// Encode serializes a compiled program into the wire format bwrap expects
// on the fd passed to --seccomp: a flat array of struct sock_filter (each
// 8 bytes: uint16 code, uint8 jt, uint8 jf, uint32 k), no length prefix
// (bwrap reads to EOF).
func Encode(prog []bpf.RawInstruction) []byte {
	buf := make([]byte, 0, len(prog)*8)
	for _, ins := range prog {
		var rec [8]byte
		binary.LittleEndian.PutUint16(rec[0:2], ins.Op)
		rec[2] = ins.Jt
		rec[3] = ins.Jf
		binary.LittleEndian.PutUint32(rec[4:8], ins.K)
		buf = append(buf, rec[:]...)
	}
	return buf
}

// Pipe holds the anonymous pipe used to hand a compiled program to a
// child: ReadFile is passed to the child (as bwrap's --seccomp fd
// argument); the write end is written to and closed before the child
// begins draining, per §4.1's ordering requirement.
type Pipe struct {
	ReadFile *os.File
}

// Publish compiles mode/names, writes the program to a fresh anonymous
// pipe, closes the write end, and returns the read end for the caller to
// hand off to the child. The write-then-close happens synchronously
// before this function returns: os.Pipe's kernel buffer (64KiB on Linux)
// comfortably holds any realistic filter program, so no background
// drainer is needed.
func Publish(mode types.FilterMode, names []string) (*Pipe, error) {
	prog, err := Compile(mode, names)
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("open seccomp pipe: %w", err)
	}
	data := Encode(prog)
	if _, err := w.Write(data); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("write seccomp program: %w", err)
	}
	if err := w.Close(); err != nil {
		r.Close()
		return nil, fmt.Errorf("close seccomp pipe write end: %w", err)
	}
	return &Pipe{ReadFile: r}, nil
}
