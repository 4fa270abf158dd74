package registry

import (
	"log/slog"

	"github.com/fileforge/dupedog/internal/types"
	"github.com/shirou/gopsutil/v4/mem"
)

// memoryMonitor samples memory on every interval-th Tick: a soft warning
// at 80% used, a hard abort with OutOfMemory at 95%. The percentage is
// gopsutil's system-wide VirtualMemory().UsedPercent, the share of the
// machine's memory in use by all processes, not this process's RSS.
// gopsutil is the ecosystem's
// idiomatic psutil-equivalent — the original Python scheduler used
// psutil directly (original_source/core.py).
type memoryMonitor struct {
	logger   *slog.Logger
	count    int64
	interval int64
	warned   bool
}

func newMemoryMonitor(logger *slog.Logger) *memoryMonitor {
	return &memoryMonitor{logger: logger, interval: 1000}
}

// Tick counts one unit of work; it samples memory only every interval
// calls to keep the syscall overhead negligible. The pipeline calls it
// through tickEach, once per scanned file, in a burst before the
// prefix-hash stage and again before the full-hash stage; nothing ticks
// while files are being hashed.
func (m *memoryMonitor) Tick() error {
	m.count++
	if m.count%m.interval != 0 {
		return nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil // monitoring is best-effort; a sampling failure is not fatal
	}
	pct := vm.UsedPercent
	if pct >= 95 {
		return types.ErrOutOfMemory
	}
	if pct >= 80 && !m.warned {
		m.warned = true
		m.logger.Warn("memory usage high", "used_percent", pct)
	}
	return nil
}
