package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/lidarcast/internal/capture"
	"github.com/ayusman/lidarcast/internal/config"
	"github.com/ayusman/lidarcast/internal/detector"
	"github.com/ayusman/lidarcast/internal/monitor"
	"github.com/ayusman/lidarcast/internal/store"
	"github.com/ayusman/lidarcast/internal/stream"
	"github.com/ayusman/lidarcast/internal/telemetry"
	"github.com/ayusman/lidarcast/internal/transport"
	"github.com/ayusman/lidarcast/internal/tray"
	"github.com/ayusman/lidarcast/internal/wire"
)

func main() {
	fmt.Println("LiDARCast - LiDAR Frame Streaming")

	configPath := flag.String("config", defaultConfigPath(), "path to the TOML config file")
	sourceName := flag.String("source", "", "capture source override: record3d, webcam or simulator")
	variantName := flag.String("variant", "", "wire variant override: raw or landmarks")
	host := flag.String("host", "", "destination host override")
	port := flag.Int("port", 0, "destination port override")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *sourceName != "" {
		cfg.Source = *sourceName
	}
	if *variantName != "" {
		cfg.Variant = *variantName
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("lidarcast: %v", err)
	}
}

// defaultConfigPath returns ~/.lidarcast/lidarcast.toml, or a relative
// path when the home directory cannot be resolved.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lidarcast.toml"
	}
	return filepath.Join(home, ".lidarcast", "lidarcast.toml")
}

// findWebDir searches for the monitor's web directory in common
// locations: "web", "../web", "../../web", and ~/.lidarcast/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	homeWebDir := filepath.Join(home, ".lidarcast", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return err
	}

	st, err := store.New(filepath.Join(dataDir, "lidarcast.db"))
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	src, err := buildSource(cfg)
	if err != nil {
		return err
	}
	if err := src.Start(); err != nil {
		return fmt.Errorf("start %s source: %w", cfg.Source, err)
	}
	defer src.Stop()

	var det detector.Detector
	if cfg.Detector && cfg.Variant == "landmarks" {
		det, err = detector.NewMediaPipeDetector(detector.DefaultConfig())
		if err != nil {
			log.Printf("MediaPipe detector unavailable (%v), using mock detector", err)
			det = detector.NewMockDetector()
		}
		defer det.Close()
	}

	session := transport.NewSession(transport.Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
	})
	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer session.Close()

	tlog, err := telemetry.CreateFrameLog(cfg.TelemetryPath)
	if err != nil {
		return err
	}
	defer tlog.Close()

	runID := uuid.New().String()
	startedAt := time.Now()
	err = st.Runs().Create(&store.Run{
		ID:          runID,
		Source:      cfg.Source,
		Variant:     cfg.Variant,
		Destination: session.Addr(),
		StartedAt:   startedAt,
	})
	if err != nil {
		log.Printf("Failed to record run %s: %v", runID, err)
	}
	log.Printf("run %s: %s -> %s (variant=%s)", runID, cfg.Source, session.Addr(), cfg.Variant)

	loop, err := stream.New(stream.Config{
		Source:    src,
		Detector:  det,
		Session:   session,
		Telemetry: tlog,
		Recorder:  st.RecorderFor(runID),
		Variant:   wire.Variant(cfg.Variant),
		Rotation:  stream.Rotation(cfg.Rotation),
	})
	if err != nil {
		return err
	}

	if cfg.Monitor {
		webDir := findWebDir()
		if webDir != "" {
			log.Printf("monitor: serving static files from %s", webDir)
		}
		mon := monitor.New(monitor.Config{Store: st, Loop: loop, StaticDir: webDir})
		go func() {
			log.Printf("monitor: listening on %s", cfg.MonitorAddr)
			if err := mon.Run(ctx, cfg.MonitorAddr); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	var loopErr error
	if cfg.Tray {
		loopErr = runWithTray(ctx, stop, loop, cfg)
	} else {
		loopErr = loop.Run(ctx)
	}

	finishRun(st, runID, startedAt, loop.Stats())
	return loopErr
}

// runWithTray keeps the tray on the main goroutine, which macOS
// requires, and drives the loop beside it.
func runWithTray(ctx context.Context, stop context.CancelFunc, loop *stream.Loop, cfg config.Config) error {
	tr := tray.New()
	tr.OnToggle(loop.SetEnabled)
	tr.OnQuit(stop)
	tr.OnMonitor(func() { openBrowser(monitorURL(cfg.MonitorAddr)) })

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
		tr.Quit()
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := loop.Stats()
				tr.SetStats(s.FPS, s.Hands, s.Connected)
			}
		}
	}()

	tr.Run()
	stop()
	return <-done
}

// buildSource constructs the configured capture source.
func buildSource(cfg config.Config) (capture.Source, error) {
	switch cfg.Source {
	case "record3d":
		return capture.NewRecord3D(cfg.Device), nil
	case "webcam":
		return capture.NewWebcam(cfg.Device), nil
	case "simulator":
		return capture.NewSimulator(0, 0, 0), nil
	}
	return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
}

// finishRun closes out the run row with final counters.
func finishRun(st *store.Store, runID string, startedAt time.Time, s stream.Stats) {
	avgFPS := 0.0
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 && s.FramesSent > 0 {
		avgFPS = float64(s.FramesSent) / elapsed
	}
	if err := st.Runs().Finish(runID, time.Now(), s.FramesSent, avgFPS); err != nil {
		log.Printf("Failed to finish run %s: %v", runID, err)
	}
	log.Printf("run %s finished: %d frames, avg %.1f fps", runID, s.FramesSent, avgFPS)
}

func monitorURL(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

// openBrowser opens url with the platform's default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}
