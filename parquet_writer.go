package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"github.com/spectrod/pkg/bufferpool"
)

// AccumulationRow is one noise diode half-cycle power accumulation as it
// lands in a .npow.parquet file.
type AccumulationRow struct {
	StartSecond        uint64  `parquet:"start_second"`
	LeadingSampleIndex uint64  `parquet:"leading_sample_index"`
	State              string  `parquet:"state"`
	Sum                float64 `parquet:"sum"`
	SumSquared         float64 `parquet:"sum_squared"`
	Count              uint64  `parquet:"count"`
	StartSample        uint64  `parquet:"start_sample"`
}

// accumulationWriter is the second registered consumer of the result pool.
// It writes the diode power accumulations of each result to a parquet file
// next to the spectrum files, named with the sideband and polarization so
// multiple daemons can share a session directory.
type accumulationWriter struct {
	cfg  Config
	pool *bufferpool.Pool[SpectrometerResult]

	consumer bufferpool.Consumer
	wait     bufferpool.ConsumerWait[SpectrometerResult]

	mu        sync.RWMutex
	outputDir string

	idleBackoff time.Duration
}

func newAccumulationWriter(cfg Config, pool *bufferpool.Pool[SpectrometerResult]) *accumulationWriter {
	w := &accumulationWriter{
		cfg:         cfg,
		pool:        pool,
		wait:        bufferpool.ConsumerWait[SpectrometerResult]{Attempts: 100},
		idleBackoff: cfg.IdleBackoff,
	}
	pool.Register(&w.consumer)
	return w
}

// Configure points the writer at the session directory. The spectrum
// writer owns the directory's metadata; this writer only needs the path.
func (w *accumulationWriter) Configure(experiment, source, scan string) error {
	dir, err := ensureSessionDir(w.cfg.DataDir, w.cfg, experiment, source, scan)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.outputDir = dir
	w.mu.Unlock()
	return nil
}

func (w *accumulationWriter) WorkPresent() bool {
	return w.pool.Pending(w.consumer.ID()) != 0
}

func (w *accumulationWriter) Idle() { time.Sleep(w.idleBackoff) }

func (w *accumulationWriter) ExecuteTask() {
	code, slot := w.wait.Reserve(w.pool, &w.consumer)
	if code == bufferpool.ReserveOverwritten {
		log.Printf("[npow] fell behind spectrometer, accumulations lost")
		return
	}
	if code != bufferpool.ReserveSuccess {
		return
	}
	res := &slot.Data()[0]

	w.mu.RLock()
	dir := w.outputDir
	w.mu.RUnlock()
	if dir == "" || len(res.OnAccumulations)+len(res.OffAccumulations) == 0 {
		w.wait.Release(w.pool, &w.consumer, slot)
		return
	}

	name := fmt.Sprintf("%d_%d_%c%c.npow.parquet",
		res.AcquisitionStartSecond, res.LeadingSampleIndex, w.cfg.Sideband, w.cfg.Polarization)
	err := w.writeAccumulationFile(filepath.Join(dir, name), res)
	w.wait.Release(w.pool, &w.consumer, slot)
	if err != nil {
		log.Printf("[npow] %s: %v", name, err)
	}
}

func (w *accumulationWriter) writeAccumulationFile(path string, res *SpectrometerResult) error {
	rows := make([]AccumulationRow, 0, len(res.OnAccumulations)+len(res.OffAccumulations))
	for _, acc := range res.OnAccumulations {
		rows = append(rows, accumulationRow(res, "on", acc))
	}
	for _, acc := range res.OffAccumulations {
		rows = append(rows, accumulationRow(res, "off", acc))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create accumulation file: %w", err)
	}
	pw := parquet.NewGenericWriter[AccumulationRow](f)
	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

func accumulationRow(res *SpectrometerResult, state string, acc PowerAccumulation) AccumulationRow {
	return AccumulationRow{
		StartSecond:        res.AcquisitionStartSecond,
		LeadingSampleIndex: res.LeadingSampleIndex,
		State:              state,
		Sum:                acc.Sum,
		SumSquared:         acc.SumSquared,
		Count:              acc.Count,
		StartSample:        acc.StartSample,
	}
}
