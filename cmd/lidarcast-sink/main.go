package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayusman/lidarcast/internal/sink"
	"github.com/ayusman/lidarcast/internal/telemetry"
	"github.com/ayusman/lidarcast/internal/wire"
)

func main() {
	fmt.Println("LiDARCast Sink - Frame Receiver")

	listen := flag.String("listen", sink.DefaultAddr, "address to listen on")
	variantName := flag.String("variant", string(wire.VariantLandmarks), "wire variant to expect: raw or landmarks")
	csvPath := flag.String("csv", "hand_tracking_log.csv", "arrival telemetry CSV path")
	recordDir := flag.String("record", "", "directory to record raw packets into (disabled when empty)")
	flag.Parse()

	variant, err := wire.ParseVariant(*variantName)
	if err != nil {
		log.Fatalf("Invalid variant: %v", err)
	}

	if err := run(*listen, variant, *csvPath, *recordDir); err != nil {
		log.Fatalf("lidarcast-sink: %v", err)
	}
}

func run(addr string, variant wire.Variant, csvPath, recordDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	alog, err := telemetry.CreateArrivalLog(csvPath)
	if err != nil {
		return err
	}
	defer alog.Close()

	s, err := sink.New(sink.Config{
		Addr:      addr,
		Variant:   variant,
		Log:       alog,
		RecordDir: recordDir,
	})
	if err != nil {
		return err
	}

	log.Printf("sink: listening on %s (variant=%s)", addr, variant)
	if err := s.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Printf("sink: received %d frames", s.Frames())
	return nil
}
