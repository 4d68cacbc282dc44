// Command floralog is the companion CLI for a FloraLog BLE plant logger.
// It discovers a logger, syncs its clock, downloads daily log files, and
// triggers the watering pump.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tbeckers/floralog/internal/ble"
	"github.com/tbeckers/floralog/internal/ble/protocol"
	"github.com/tbeckers/floralog/internal/config"
	"github.com/tbeckers/floralog/internal/readings"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: floralog [flags] <command>

Commands:
  scan    discover FloraLog devices
  sync    set the logger clock to the current time
  fetch   download a daily log file and print its readings
  pump    trigger the watering pump

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/floralog/config.yaml)")
	device := flag.String("device", "", "logger address (overrides the configured device)")
	date := flag.String("date", "", "log date as YYYY-MM-DD for fetch (default: today)")
	flag.Usage = usage
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	slog.SetLogLoggerLevel(logLevel(cfg.LogLevel))

	session := ble.NewSession(ble.NewHardwareAdapter(), ble.Options{
		ScanTimeout:    time.Duration(cfg.Timeouts.ScanSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.Timeouts.ConnectSeconds) * time.Second,
	})
	defer session.Close()

	// Ctrl+C releases the adapter before exiting.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("interrupted")
		session.Close()
		os.Exit(1)
	}()

	if err := session.RequestPermissions(); err != nil {
		log.Fatalf("bluetooth unavailable: %v", err)
	}

	switch cmd {
	case "scan":
		err = runScan(session, cfg)
	case "sync":
		err = withLogger(session, cfg, *device, func() error {
			return session.SyncTime(time.Now())
		})
		if err == nil {
			log.Println("Logger clock synced")
		}
	case "pump":
		err = withLogger(session, cfg, *device, func() error {
			return session.Pump()
		})
		if err == nil {
			log.Println("Pump triggered")
		}
	case "fetch":
		err = withLogger(session, cfg, *device, func() error {
			return runFetch(session, *date)
		})
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// loadConfig loads the given path, or the default path if it exists, or
// plain defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runScan discovers loggers and prints them once the scan finishes.
func runScan(session *ble.Session, cfg *config.Config) error {
	log.Printf("Scanning for loggers (%ds)...", cfg.Timeouts.ScanSeconds)
	ch, cancel := session.Watch()
	defer cancel()
	if err := session.StartScan(); err != nil {
		return err
	}

	snap, err := await(ch, time.Duration(cfg.Timeouts.ScanSeconds+5)*time.Second, func(s ble.Snapshot) bool {
		return s.Status == ble.StatusScanDone
	})
	if err != nil {
		return err
	}

	if len(snap.Devices) == 0 {
		log.Println("No loggers found")
		return nil
	}
	fmt.Printf("%-20s %-24s %s\n", "NAME", "ADDRESS", "RSSI")
	for _, d := range snap.Devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-20s %-24s %d\n", name, d.ID, d.RSSI)
	}
	return nil
}

// withLogger connects to the pinned or discovered logger, runs op, and
// disconnects.
func withLogger(session *ble.Session, cfg *config.Config, override string, op func() error) error {
	id, err := resolveDevice(session, cfg, override)
	if err != nil {
		return err
	}

	ch, cancel := session.Watch()
	defer cancel()
	session.Connect(id)
	if _, err := await(ch, time.Duration(cfg.Timeouts.ConnectSeconds+5)*time.Second, func(s ble.Snapshot) bool {
		return s.Status == ble.StatusConnected
	}); err != nil {
		return fmt.Errorf("connect to %s: %w", id, err)
	}
	defer session.Disconnect()

	return op()
}

// resolveDevice picks the logger address: flag override, then the config
// pin, then a scan choosing the strongest signal.
func resolveDevice(session *ble.Session, cfg *config.Config, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if cfg.Device.Address != "" {
		return cfg.Device.Address, nil
	}

	log.Println("No device configured, scanning...")
	ch, cancel := session.Watch()
	defer cancel()
	if err := session.StartScan(); err != nil {
		return "", err
	}
	snap, err := await(ch, time.Duration(cfg.Timeouts.ScanSeconds+5)*time.Second, func(s ble.Snapshot) bool {
		return s.Status == ble.StatusScanDone
	})
	if err != nil {
		return "", err
	}
	if len(snap.Devices) == 0 {
		return "", errors.New("no loggers found; pin one in the config to skip scanning")
	}

	best := snap.Devices[0]
	for _, d := range snap.Devices[1:] {
		if d.RSSI > best.RSSI {
			best = d
		}
	}
	log.Printf("Using %s (%s, RSSI %d)", best.Name, best.ID, best.RSSI)
	return best.ID, nil
}

// runFetch downloads one daily log file and prints its parsed readings.
func runFetch(session *ble.Session, date string) error {
	at := time.Now()
	if date != "" {
		var err error
		at, err = time.Parse("2006-01-02", date)
		if err != nil {
			return fmt.Errorf("bad -date %q: %w", date, err)
		}
	}
	filename := protocol.LogFileName(at)

	log.Printf("Downloading %s...", filename)
	if err := session.RequestLogFile(filename); err != nil {
		return err
	}
	ch, cancel := session.Watch()
	defer cancel()
	snap, err := await(ch, 2*time.Minute, func(s ble.Snapshot) bool {
		return !s.Busy
	})
	if err != nil {
		return err
	}

	if len(snap.Lines) == 0 {
		log.Println("Log file is empty")
		return nil
	}
	for _, line := range snap.Lines {
		fmt.Println(line)
	}

	parsed, skipped := readings.ParseAll(snap.Lines)
	log.Printf("%d reading(s), %d malformed line(s)", len(parsed), skipped)
	if len(parsed) > 0 {
		last := parsed[len(parsed)-1]
		log.Printf("Latest: %s  Temp %.1f  Light %.0f  Moisture %.0f  Conductivity %.0f  Battery %.0f%%",
			last.Time.Format("2006-01-02 15:04:05"),
			last.Temp, last.Light, last.Moisture, last.Conductivity, last.Battery)
	}
	return nil
}

// await reads snapshots until cond holds. A snapshot in StatusError, a
// closed session, or the timeout all fail with the snapshot's message.
func await(ch <-chan ble.Snapshot, timeout time.Duration, cond func(ble.Snapshot) bool) (ble.Snapshot, error) {
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return ble.Snapshot{}, errors.New("session closed")
			}
			if snap.Status == ble.StatusError {
				return snap, errors.New(snap.Message)
			}
			if cond(snap) {
				return snap, nil
			}
		case <-deadline:
			return ble.Snapshot{}, errors.New("timed out")
		}
	}
}
