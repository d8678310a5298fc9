package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spectrod/pkg/bufferpool"
)

// sessionMeta is written once per recording session as meta-data.json in
// the session directory, so the analysis side can interpret the files
// next to it without the daemon's command line.
type sessionMeta struct {
	Experiment         string  `json:"experiment_name"`
	SourceName         string  `json:"source_name"`
	ScanName           string  `json:"scan_name"`
	SampleRate         float64 `json:"sample_rate_hz"`
	FFTSize            int     `json:"fft_size"`
	NAverages          int     `json:"n_averages"`
	SwitchingFrequency float64 `json:"switching_frequency_hz"`
	StartedAt          string  `json:"started_at"`
}

// ensureSessionDir creates <dataDir>/<exp>_<src>_<scan>, substituting the
// stock placeholder names for any field left empty, and drops the session
// metadata file into it.
func ensureSessionDir(dataDir string, cfg Config, experiment, source, scan string) (string, error) {
	if experiment == "" {
		experiment = "ExpX"
	}
	if source == "" {
		source = "SrcX"
	}
	if scan == "" {
		scan = "ScnX"
	}
	dir := filepath.Join(dataDir, fmt.Sprintf("%s_%s_%s", experiment, source, scan))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}
	meta := sessionMeta{
		Experiment:         experiment,
		SourceName:         source,
		ScanName:           scan,
		SampleRate:         cfg.SampleRate,
		FFTSize:            cfg.FFTSize,
		NAverages:          cfg.NAverages,
		SwitchingFrequency: cfg.SwitchingFrequency,
		StartedAt:          time.Now().Format(time.RFC3339),
	}
	buf, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta-data.json"), buf, 0o644); err != nil {
		return "", fmt.Errorf("write session metadata: %w", err)
	}
	return dir, nil
}

// spectrumWriter drains the result pool in order and writes one .spec
// file per averaged spectrum into the configured session directory.
// Results arriving before the first Configure are consumed and dropped.
type spectrumWriter struct {
	cfg  Config
	pool *bufferpool.Pool[SpectrometerResult]

	consumer bufferpool.Consumer
	wait     bufferpool.ConsumerWait[SpectrometerResult]

	mu        sync.RWMutex
	outputDir string

	idleBackoff time.Duration
}

func newSpectrumWriter(cfg Config, pool *bufferpool.Pool[SpectrometerResult]) *spectrumWriter {
	w := &spectrumWriter{
		cfg:         cfg,
		pool:        pool,
		wait:        bufferpool.ConsumerWait[SpectrometerResult]{Attempts: 100},
		idleBackoff: cfg.IdleBackoff,
	}
	pool.Register(&w.consumer)
	return w
}

// Configure points the writer at a fresh session directory. Called on the
// control goroutine before acquisition is armed.
func (w *spectrumWriter) Configure(experiment, source, scan string) error {
	dir, err := ensureSessionDir(w.cfg.DataDir, w.cfg, experiment, source, scan)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.outputDir = dir
	w.mu.Unlock()
	log.Printf("[writer] session directory %s", dir)
	return nil
}

func (w *spectrumWriter) WorkPresent() bool {
	return w.pool.Pending(w.consumer.ID()) != 0
}

func (w *spectrumWriter) Idle() { time.Sleep(w.idleBackoff) }

func (w *spectrumWriter) ExecuteTask() {
	code, slot := w.wait.Reserve(w.pool, &w.consumer)
	if code == bufferpool.ReserveOverwritten {
		log.Printf("[writer] fell behind spectrometer, spectra lost")
		return
	}
	if code != bufferpool.ReserveSuccess {
		return
	}
	res := &slot.Data()[0]

	w.mu.RLock()
	dir := w.outputDir
	w.mu.RUnlock()
	if dir == "" {
		w.wait.Release(w.pool, &w.consumer, slot)
		return
	}

	if res.LeadingSampleIndex == 0 {
		log.Printf("[writer] new acquisition starting at %d", res.AcquisitionStartSecond)
	}
	name := fmt.Sprintf("%d_%d.spec", res.AcquisitionStartSecond, res.LeadingSampleIndex)
	err := writeSpectrumFile(filepath.Join(dir, name), res)
	w.wait.Release(w.pool, &w.consumer, slot)
	if err != nil {
		log.Printf("[writer] %s: %v", name, err)
	}
}

// writeSpectrumFile lays the result out little-endian: a fixed header of
// start second, leading sample index, sample rate, average count and bin
// count, followed by the float64 bins.
func writeSpectrumFile(path string, res *SpectrometerResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create spectrum file: %w", err)
	}
	defer f.Close()

	header := []interface{}{
		res.AcquisitionStartSecond,
		res.LeadingSampleIndex,
		res.SampleRate,
		uint32(res.NAverages),
		uint32(res.SpectrumLength),
	}
	for _, field := range header {
		if err := binary.Write(f, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := binary.Write(f, binary.LittleEndian, res.Spectrum); err != nil {
		return fmt.Errorf("write bins: %w", err)
	}
	return nil
}
