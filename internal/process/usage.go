package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of the decoder.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

// UsageOf samples CPU, memory and thread count for pid.
func UsageOf(pid int) (Usage, error) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return u, err
	}
	u.RSSBytes = mem.RSS
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}
