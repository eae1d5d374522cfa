//go:build !unix

package environment

import (
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

func limitMemory(name string, args []string, _ uint64) (string, []string) {
	return name, args
}

func peakMemoryKB(*os.ProcessState) uint64 {
	return 0
}

func killedByOOM(*os.ProcessState) bool {
	return false
}
