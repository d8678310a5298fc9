package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	def := DefaultConfig()

	port := flag.Int("p", def.Port, "Port for the websocket command server")
	dataDir := flag.String("data", def.DataDir, "Root directory for session output")
	device := flag.String("d", def.DevicePath, "DMA device path")
	isSim := flag.Bool("sim", false, "Use the simulated digitizer instead of hardware")
	rate := flag.Float64("rate", def.SampleRate, "Sample rate in Hz")
	fftSize := flag.Int("fft", def.FFTSize, "FFT frame size (power of two)")
	averages := flag.Int("avg", def.NAverages, "FFT frames averaged per spectrum")
	sourceSlots := flag.Int("source-slots", def.DigitizerPoolSize, "Raw sample pool ring size")
	sinkSlots := flag.Int("sink-slots", def.SpectrometerPoolSize, "Result pool ring size")
	digThreads := flag.Int("digitizer-threads", def.NDigitizerThreads, "Digitizer stage workers")
	specThreads := flag.Int("spectrometer-threads", def.NSpectrometerThreads, "Spectrometer stage workers")
	tick := flag.Duration("tick", def.TickInterval, "Control loop tick interval")
	pin := flag.Bool("pin", false, "Pin stage workers to CPUs (Linux only)")

	// One-shot recording without a connected client.
	recordFor := flag.Duration("record", 0, "Record for this duration, then exit")
	experiment := flag.String("exp", "", "Experiment name for --record")
	sourceName := flag.String("src", "", "Source name for --record")
	scanName := flag.String("scn", "", "Scan name for --record")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "  Daemon:   spectrod [options]")
		fmt.Fprintln(os.Stderr, "  Sim Mode: spectrod --sim [options]")
		fmt.Fprintln(os.Stderr, "  One-shot: spectrod --sim --record 10s -exp E -src S -scn N")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := def
	cfg.Port = *port
	cfg.DataDir = *dataDir
	cfg.DevicePath = *device
	cfg.Sim = *isSim
	cfg.SampleRate = *rate
	cfg.FFTSize = *fftSize
	cfg.NAverages = *averages
	cfg.DigitizerPoolSize = *sourceSlots
	cfg.SpectrometerPoolSize = *sinkSlots
	cfg.NDigitizerThreads = *digThreads
	cfg.NSpectrometerThreads = *specThreads
	cfg.TickInterval = *tick
	cfg.PinWorkers = *pin

	mgr := NewSpectrometerManager(cfg)
	if err := mgr.Initialize(); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("shutting down")
		mgr.Shutdown()
	}()

	if *recordFor > 0 {
		go runOneShot(mgr, *recordFor, *experiment, *sourceName, *scanName)
	}

	if err := mgr.Run(); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// runOneShot drives a single fixed-length recording over the normal
// command path, then shuts the daemon down.
func runOneShot(mgr *SpectrometerManager, duration time.Duration, experiment, source, scan string) {
	time.Sleep(200 * time.Millisecond)
	mgr.Submit(fmt.Sprintf("record=on:%s:%s:%s", experiment, source, scan))
	time.Sleep(duration)
	mgr.Submit(stopCommand)
	time.Sleep(2 * time.Second)
	mgr.Shutdown()
}
