//go:build linux

package backfill

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const meminfoPath = "/proc/meminfo"

// HostSampler reads memory and load average from the kernel. Memory in use
// excludes reclaimable page cache.
type HostSampler struct {
	// MeminfoPath overrides /proc/meminfo
	MeminfoPath string
}

func (h HostSampler) Sample() (Usage, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Usage{}, fmt.Errorf("sysinfo: %w", err)
	}
	if info.Totalram == 0 {
		return Usage{}, fmt.Errorf("sysinfo reported zero total memory")
	}

	// Loads are fixed-point with 16 fractional bits
	load := float64(info.Loads[0]) / float64(1<<16)

	return Usage{
		Memory: h.memoryUsed(info),
		Load:   load / float64(runtime.NumCPU()),
	}, nil
}

func (h HostSampler) memoryUsed(info unix.Sysinfo_t) float64 {
	path := h.MeminfoPath
	if path == "" {
		path = meminfoPath
	}
	if f, err := os.Open(path); err == nil {
		total, available, ok := memAvailable(f)
		f.Close()
		if ok {
			return 1 - float64(available)/float64(total)
		}
	}

	// Kernels without MemAvailable: count buffers as free
	total := float64(info.Totalram) * float64(info.Unit)
	free := float64(info.Freeram+info.Bufferram) * float64(info.Unit)
	return 1 - free/total
}
