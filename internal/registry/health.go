package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"fablecast/server/internal/interfaces"
)

// HealthMonitor probes every registered model on a fixed interval and
// records the result. One model's probe failure affects only that model.
type HealthMonitor struct {
	registry *Registry
	prober   interfaces.Prober
	interval time.Duration
	timeout  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHealthMonitor creates a monitor. Non-positive interval and timeout
// fall back to 30s and 5s.
func NewHealthMonitor(reg *Registry, prober interfaces.Prober, interval, timeout time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		registry: reg,
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

// Start launches the probe loop in the background.
func (m *HealthMonitor) Start() {
	go m.run()
	log.Printf("[HealthMonitor] probing %d models every %s", len(m.registry.List(Filter{})), m.interval)
}

// Stop ends the probe loop. Safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *HealthMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.CheckAll(context.Background())
		}
	}
}

// CheckAll probes every registered model once, bounding each probe with
// the monitor's timeout.
func (m *HealthMonitor) CheckAll(ctx context.Context) {
	for _, desc := range m.registry.List(Filter{}) {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		latency, err := m.prober.Probe(probeCtx, desc.ID)
		cancel()

		if err != nil {
			m.registry.SetHealth(desc.ID, false, 0)
			log.Printf("[HealthMonitor] model %s probe failed: %v", desc.ID, err)
			continue
		}
		m.registry.SetHealth(desc.ID, true, latency)
	}
}
