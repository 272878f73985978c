package simulate

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is the process footprint at the end of a run.
type ResourceUsage struct {
	CPUPercent     float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryRSS      uint64  `json:"memory_rss" yaml:"memory_rss"`
	HeapAlloc      uint64  `json:"heap_alloc" yaml:"heap_alloc"`
	GoroutineCount int     `json:"goroutines" yaml:"goroutines"`
	ThreadCount    int32   `json:"threads" yaml:"threads"`
}

// resourceMonitor measures CPU time used since it was created. Sampling
// errors leave the affected fields zero; not every platform exposes them.
type resourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

func newResourceMonitor() *resourceMonitor {
	rm := &resourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return rm
	}
	rm.process = proc
	if cpuTime, err := proc.Times(); err == nil {
		rm.startCPUTime = cpuTime.Total()
	}
	return rm
}

func (rm *resourceMonitor) usage() ResourceUsage {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	usage := ResourceUsage{
		HeapAlloc:      memStats.HeapAlloc,
		GoroutineCount: runtime.NumGoroutine(),
	}
	if rm.process == nil {
		return usage
	}

	if cpuTime, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = ((cpuTime.Total() - rm.startCPUTime) / elapsed) * 100
		}
	}
	if memInfo, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = memInfo.RSS
	}
	usage.ThreadCount, _ = rm.process.NumThreads()
	return usage
}
