//go:build linux && cgo

package sandbox

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/internal/seccomp"
	"github.com/agentsh/yfass/pkg/types"
	"github.com/fsnotify/fsnotify"
)

// privateContentsPath is the fixed mount point for a function's contents
// directory inside the sandbox. Mounting at "./" is interpreted as "/" by
// bwrap and collides with later binds, so contents get a private path
// instead (§4.2 step 3).
const privateContentsPath = "/.__private_yfass_contents"

// seccompFDSlot is the fd number the seccomp pipe's read end lands on
// inside the child: the first (and only) entry of exec.Cmd.ExtraFiles is
// always assigned fd 3, giving a stable, known number for bwrap's
// --seccomp argument without any manual fd-table surgery (§4.2 "FD
// passing").
const seccompFDSlot = 3

// gracefulTimeout is the bounded deadline Terminate waits after SIGTERM
// before escalating to SIGKILL (§4.2 "Lifecycle").
const gracefulTimeout = 5 * time.Second

// BwrapLauncher spawns children via the external bwrap tool.
type BwrapLauncher struct {
	Log *slog.Logger

	mu        sync.RWMutex
	bwrapPath string
	watcher   *fsnotify.Watcher
}

// NewBwrapLauncher probes for bwrap on PATH (or bwrapPath if given) at
// construction so a missing binary fails at startup, not first deploy
// (SPEC_FULL.md §3). It also watches the binary's parent directory and
// re-probes PATH if the resolved binary is renamed or removed out from
// under a running server, so a later Spawn reports a fresh
// bwrap_missing error instead of silently exec'ing a stale, deleted
// inode.
func NewBwrapLauncher(bwrapPath string, log *slog.Logger) (*BwrapLauncher, error) {
	explicit := bwrapPath != ""
	if !explicit {
		p, err := exec.LookPath("bwrap")
		if err != nil {
			return nil, apierr.WithCategory(apierr.SandboxSpawnError, string(CategoryBwrapMissing), "bwrap not found on PATH", err)
		}
		bwrapPath = p
	} else if _, err := exec.LookPath(bwrapPath); err != nil {
		return nil, apierr.WithCategory(apierr.SandboxSpawnError, string(CategoryBwrapMissing), "bwrap not found at "+bwrapPath, err)
	}
	if log == nil {
		log = slog.Default()
	}
	l := &BwrapLauncher{bwrapPath: bwrapPath, Log: log.With("component", "sandbox")}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if watchErr := watcher.Add(filepath.Dir(bwrapPath)); watchErr == nil {
			l.watcher = watcher
			go l.watchBwrapPath(explicit)
		} else {
			watcher.Close()
		}
	}
	return l, nil
}

func (l *BwrapLauncher) watchBwrapPath(explicit bool) {
	base := filepath.Base(l.path())
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if explicit {
				l.Log.Warn("bwrap binary at explicit path changed", "path", ev.Name, "op", ev.Op.String())
				continue
			}
			p, err := exec.LookPath("bwrap")
			if err != nil {
				l.Log.Error("bwrap disappeared from PATH; deploys will fail until it is reinstalled", "error", err)
				continue
			}
			l.setPath(p)
			l.Log.Info("re-probed bwrap on PATH after rename", "path", p)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.Log.Warn("bwrap path watcher error", "error", err)
		}
	}
}

func (l *BwrapLauncher) path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bwrapPath
}

func (l *BwrapLauncher) setPath(p string) {
	l.mu.Lock()
	l.bwrapPath = p
	l.mu.Unlock()
}

// Close stops the background path watcher. Safe to call on a launcher
// whose watcher failed to start.
func (l *BwrapLauncher) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

func (l *BwrapLauncher) Spawn(ctx context.Context, contentsDir string, cfg types.SandboxConfig) (Handle, error) {
	args := []string{
		"--die-with-parent",
		"--unshare-all",
		"--share-net",
	}

	// Deterministic ordering for reproducible invocations / testability.
	hostPaths := make([]string, 0, len(cfg.ROEntries))
	for h := range cfg.ROEntries {
		hostPaths = append(hostPaths, h)
	}
	sort.Strings(hostPaths)
	for _, host := range hostPaths {
		args = append(args, "--ro-bind", host, cfg.ROEntries[host])
	}

	args = append(args, "--ro-bind", contentsDir, privateContentsPath)

	if cfg.PlatformExt.MountProcfs {
		args = append(args, "--proc", "/proc")
	}
	if cfg.PlatformExt.MountDevtmpfs {
		args = append(args, "--dev", "/dev")
	}
	if cfg.PlatformExt.MountTmpfs {
		args = append(args, "--tmpfs", "/tmp")
	}

	envNames := make([]string, 0, len(cfg.Envs))
	for k := range cfg.Envs {
		envNames = append(envNames, k)
	}
	sort.Strings(envNames)
	for _, k := range envNames {
		args = append(args, "--setenv", k, cfg.Envs[k])
	}

	args = append(args, "--chdir", privateContentsPath)

	var seccompPipe *seccomp.Pipe
	var extraFile *os.File
	if cfg.PlatformExt.HasFilter() {
		var err error
		seccompPipe, err = seccomp.Publish(cfg.PlatformExt.SyscallFilterMode, cfg.PlatformExt.SyscallFilter)
		if err != nil {
			return nil, translateSeccompErr(err)
		}
		extraFile = seccompPipe.ReadFile
		args = append(args, "--seccomp", strconv.Itoa(seccompFDSlot))
	}

	args = append(args, "--")
	args = append(args, cfg.Command)
	args = append(args, cfg.Args...)

	cmd := exec.CommandContext(ctx, l.path(), args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if extraFile != nil {
		// exec.Cmd assigns ExtraFiles fd numbers sequentially starting
		// at 3 and clears close-on-exec automatically, which is exactly
		// the capability-transfer contract §4.2 asks for: the pipe's
		// read end is the sole extra file, so it always lands on
		// seccompFDSlot in the child. The launcher disowns extraFile
		// once Start() has forked; the child now owns the fd.
		cmd.ExtraFiles = []*os.File{extraFile}
		defer extraFile.Close()
	}

	if cfg.InheritStdout {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, apierr.WithCategory(apierr.SandboxSpawnError, string(CategoryIO), "open /dev/null", err)
		}
		defer null.Close()
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.WithCategory(apierr.SandboxSpawnError, string(CategoryBwrapMissing), "start bwrap", err)
		}
		return nil, apierr.WithCategory(apierr.SandboxSpawnError, string(CategoryIO), "start bwrap", err)
	}

	h := &bwrapHandle{cmd: cmd, log: l.Log}
	h.wg.Add(1)
	go h.wait()
	return h, nil
}

func translateSeccompErr(err error) error {
	var cfgErr *seccomp.ConfigError
	if e, ok := err.(*seccomp.ConfigError); ok {
		cfgErr = e
	}
	if cfgErr != nil {
		return apierr.Wrap(apierr.BadRequest, "unknown syscall in filter", cfgErr)
	}
	return apierr.WithCategory(apierr.SandboxSpawnError, string(CategoryFDSetup), "compile seccomp filter", err)
}

type bwrapHandle struct {
	cmd *exec.Cmd
	log *slog.Logger

	mu      sync.Mutex
	running bool
	exited  bool
	wg      sync.WaitGroup
}

func (h *bwrapHandle) wait() {
	defer h.wg.Done()
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	err := h.cmd.Wait()
	h.mu.Lock()
	h.running = false
	h.exited = true
	h.mu.Unlock()
	if err != nil {
		h.log.Warn("sandbox exited", "pid", h.cmd.Process.Pid, "error", err)
	} else {
		h.log.Info("sandbox exited", "pid", h.cmd.Process.Pid)
	}
}

func (h *bwrapHandle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running && !h.exited
}

func (h *bwrapHandle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	proc := h.cmd.Process
	exited := h.exited
	h.mu.Unlock()
	if exited || proc == nil {
		return nil
	}

	pgid, err := syscall.Getpgid(proc.Pid)
	if err != nil {
		pgid = proc.Pid
	}
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() { h.wg.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-time.After(gracefulTimeout):
	case <-ctx.Done():
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-done
	return nil
}

var _ Launcher = (*BwrapLauncher)(nil)
