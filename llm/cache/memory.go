package cache

import (
	"runtime"
	"sync"
	"time"
)

// defaultHeapLimit 触发紧急清理的进程堆阈值。
const defaultHeapLimit = 100 * 1024 * 1024

// MemoryMonitor samples process heap usage. Samples are cached briefly so
// hot paths can consult pressure without paying for ReadMemStats each time.
type MemoryMonitor struct {
	heapLimit uint64

	mu        sync.Mutex
	lastRead  time.Time
	lastAlloc uint64

	// readMemStats 可注入，测试时替换。
	readMemStats func() uint64
}

// NewMemoryMonitor creates a monitor with the given heap limit in bytes
// (0 means the 100MB default).
func NewMemoryMonitor(heapLimit uint64) *MemoryMonitor {
	if heapLimit == 0 {
		heapLimit = defaultHeapLimit
	}
	return &MemoryMonitor{
		heapLimit: heapLimit,
		readMemStats: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
}

// WithReader injects the heap sampler, for tests.
func (m *MemoryMonitor) WithReader(read func() uint64) *MemoryMonitor {
	m.readMemStats = read
	return m
}

// HeapAlloc returns the (possibly cached) current heap allocation.
func (m *MemoryMonitor) HeapAlloc() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastRead) > time.Second {
		m.lastAlloc = m.readMemStats()
		m.lastRead = time.Now()
	}
	return m.lastAlloc
}

// UnderPressure reports whether heap usage exceeds the limit.
func (m *MemoryMonitor) UnderPressure() bool {
	return m.HeapAlloc() > m.heapLimit
}
