//go:build linux && cgo

package seccomp

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/agentsh/yfass/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestCompileDenyMode(t *testing.T) {
	prog, err := Compile(types.FilterDeny, []string{"ptrace", "mount"})
	require.NoError(t, err)
	require.NotEmpty(t, prog)

	last := prog[len(prog)-1]
	require.Equal(t, uint32(retKillThread), last.K, "last RET must be the matched-syscall action")
	secondLast := prog[len(prog)-2]
	require.Equal(t, uint32(retAllow), secondLast.K, "default RET must allow in deny mode")
}

func TestCompileAllowMode(t *testing.T) {
	prog, err := Compile(types.FilterAllow, []string{"read"})
	require.NoError(t, err)

	last := prog[len(prog)-1]
	require.Equal(t, uint32(retAllow), last.K)
	secondLast := prog[len(prog)-2]
	require.Equal(t, uint32(retKillThread), secondLast.K)
}

func TestCompileUnknownSyscall(t *testing.T) {
	_, err := Compile(types.FilterDeny, []string{"not_a_real_syscall"})
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "not_a_real_syscall", cfgErr.Syscall)
}

func TestEncodeRoundTripsInstructionFields(t *testing.T) {
	prog, err := Compile(types.FilterDeny, []string{"ptrace"})
	require.NoError(t, err)

	data := Encode(prog)
	require.Len(t, data, len(prog)*8)

	for i, ins := range prog {
		rec := data[i*8 : i*8+8]
		require.Equal(t, ins.Op, binary.LittleEndian.Uint16(rec[0:2]))
		require.Equal(t, ins.Jt, rec[2])
		require.Equal(t, ins.Jf, rec[3])
		require.Equal(t, ins.K, binary.LittleEndian.Uint32(rec[4:8]))
	}
}

func TestPublishWritesAndClosesBeforeReturn(t *testing.T) {
	p, err := Publish(types.FilterDeny, []string{"fork"})
	require.NoError(t, err)
	defer p.ReadFile.Close()

	data, err := io.ReadAll(p.ReadFile)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Zero(t, len(data)%8, "encoded program must be a whole number of sock_filter records")
}
