//go:build unix

package environment

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// configureProcess starts cmd in its own process group and makes
// cancellation kill the whole group, so children spawned by a planner
// driver die with it.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}

// limitMemory wraps the command in a shell that sets the address-space
// limit and then execs the command, so the limit applies to it alone.
func limitMemory(name string, args []string, memory uint64) (string, []string) {
	if memory == 0 {
		return name, args
	}

	kb := strconv.FormatUint(memory/1024, 10)
	script := `ulimit -v ` + kb + ` && exec "$0" "$@"`

	return "/bin/sh", append([]string{"-c", script, name}, args...)
}

func peakMemoryKB(ps *os.ProcessState) uint64 {
	ru, ok := ps.SysUsage().(*syscall.Rusage)
	if !ok || ru.Maxrss <= 0 {
		return 0
	}

	if runtime.GOOS == "darwin" {
		return uint64(ru.Maxrss) / 1024
	}

	return uint64(ru.Maxrss)
}

func killedByOOM(ps *os.ProcessState) bool {
	if ps == nil {
		return false
	}

	ws, ok := ps.Sys().(syscall.WaitStatus)

	return ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL
}
