package governor

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

func readMemInfo() (MemInfo, error) {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return MemInfo{}, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return MemInfo{}, fmt.Errorf("parse hw.memsize: %w", err)
	}
	// No cheap resident probe without cgo; the runtime's Sys is an upper bound.
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemInfo{ResidentBytes: ms.Sys, TotalBytes: total}, nil
}
