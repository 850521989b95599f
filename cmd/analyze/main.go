package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/timmy/dmi/internal/app"
	"github.com/timmy/dmi/internal/config"
	"github.com/timmy/dmi/internal/logger"
)

func main() {
	// Logs go to stderr so the report on stdout stays machine readable.
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stderr,
		ServiceName: "dmi-analyze",
	})
	logger.SetDefaultLogger(appLogger)

	mode := flag.String("mode", "deepfake", "Detector to run: deepfake, ai-image or ai-text")
	highlight := flag.Bool("highlight", true, "Mark AI-looking words (ai-text mode)")
	frameRate := flag.Float64("frame-rate", 0, "Frames sampled per second of video (0 uses the configured default)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <file>\n", filepath.Base(os.Args[0]))
		fmt.Fprintln(flag.CommandLine.Output(), "In ai-text mode <file> is a UTF-8 text file, or - for stdin.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	switch *mode {
	case "deepfake", "ai-image", "ai-text":
	default:
		appLogger.WithField("mode", *mode).Fatal("Unknown mode")
	}
	if *frameRate < 0 {
		appLogger.WithField("frame_rate", *frameRate).Fatal("Frame rate must not be negative")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	a, err := app.Build(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	defer a.Close()

	src := flag.Arg(0)
	var report interface{}
	if *mode == "ai-text" {
		text, err := readText(src)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to read input")
		}
		appLogger.WithFields(logger.Fields{"mode": *mode, "source": src}).Info("Starting analysis")
		report, err = a.Analysis.AnalyzeText(ctx, text, *highlight)
		if err != nil {
			appLogger.WithError(err).Fatal("Analysis failed")
		}
		writeReport(appLogger, report)
		return
	}

	f, err := os.Open(src)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open input")
	}
	path, err := a.Analysis.SaveUpload(ctx, filepath.Base(src), f)
	f.Close()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to stage input")
	}

	appLogger.WithFields(logger.Fields{
		"mode": *mode,
		"path": path,
	}).Info("Starting analysis")

	switch *mode {
	case "deepfake":
		report, err = a.Analysis.AnalyzeDeepfake(ctx, path, filepath.Base(src), *frameRate)
	case "ai-image":
		report, err = a.Analysis.AnalyzeAIImage(ctx, path, filepath.Base(src))
	}
	if err != nil {
		appLogger.WithError(err).Fatal("Analysis failed")
	}
	writeReport(appLogger, report)
}

func readText(src string) (string, error) {
	if src == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(src)
	return string(b), err
}

func writeReport(log *logger.Logger, report interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.WithError(err).Fatal("Failed to write report")
	}
}
