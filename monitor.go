package main

import (
	"time"

	"github.com/spectrod/pkg/bufferpool"
)

// powerMonitor tracks the live edge of the result pool and broadcasts a
// band power summary for each spectrum it sees. It steals rather than
// waits: a stale power reading is worthless, a skipped one is free.
type powerMonitor struct {
	pool *bufferpool.Pool[SpectrometerResult]

	consumer bufferpool.Consumer
	steal    bufferpool.ConsumerSteal[SpectrometerResult]

	broadcast func(interface{})
	interval  time.Duration
}

func newPowerMonitor(pool *bufferpool.Pool[SpectrometerResult], broadcast func(interface{}), interval time.Duration) *powerMonitor {
	m := &powerMonitor{pool: pool, broadcast: broadcast, interval: interval}
	pool.Register(&m.consumer)
	return m
}

func (m *powerMonitor) WorkPresent() bool {
	return m.pool.Pending(m.consumer.ID()) != 0
}

func (m *powerMonitor) Idle() { time.Sleep(m.interval) }

func (m *powerMonitor) ExecuteTask() {
	code, slot := m.steal.Reserve(m.pool, &m.consumer)
	if code != bufferpool.ReserveSuccess || slot == nil {
		return
	}
	res := &slot.Data()[0]

	total := 0.0
	for _, bin := range res.Spectrum {
		total += bin
	}
	msg := map[string]interface{}{
		"type":                 "power",
		"start_second":         res.AcquisitionStartSecond,
		"leading_sample_index": res.LeadingSampleIndex,
		"band_power":           total,
		"averages":             res.NAverages,
	}
	m.steal.Release(m.pool, &m.consumer, slot)

	if m.broadcast != nil {
		m.broadcast(msg)
	}
}
