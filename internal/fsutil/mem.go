package fsutil

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// defaultAvailableBytes stands in when the host gives no answer; it sizes
// batches as a 2 GiB machine would.
const defaultAvailableBytes = 2 << 30

// AvailableMemory returns the bytes of memory the host can spare for frame
// batches. It prefers MemAvailable from /proc/meminfo, falls back to the
// sysinfo free count, and reports a conservative default when both fail.
func AvailableMemory() uint64 {
	if b, ok := memAvailableProc(); ok {
		return b
	}
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err == nil {
		return uint64(info.Freeram) * uint64(info.Unit)
	}
	return defaultAvailableBytes
}

func memAvailableProc() (uint64, bool) {
	content, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(content), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
