package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/Argus/internal/argus/capture"
)

func runAgent(args []string) error {
	var (
		server     string
		token      string
		examID     string
		framesDir  string
		classifier string
		interval   time.Duration
		threshold  float64
		drain      time.Duration
	)
	fs := pflag.NewFlagSet("argusctl agent", pflag.ContinueOnError)
	fs.StringVar(&server, "server", envDefault("ARGUS_SERVER", "http://localhost:8080"), "server base URL")
	fs.StringVar(&token, "token", envDefault("ARGUS_TOKEN", ""), "student bearer token (default $ARGUS_TOKEN)")
	fs.StringVar(&examID, "exam", "", "exam id to monitor")
	fs.StringVar(&framesDir, "frames", "", "directory of camera frames to replay; empty disables the camera")
	fs.StringVar(&classifier, "classifier", "", "face classifier endpoint; empty disables presence checks")
	fs.DurationVar(&interval, "interval", capture.DefaultInterval, "camera sampling interval")
	fs.Float64Var(&threshold, "face-threshold", capture.DefaultFaceThreshold, "confidence below this is face-absent, in (0, 1]; omit --frames to skip presence checks")
	fs.DurationVar(&drain, "drain", 10*time.Second, "how long to wait for pending submissions on exit")

	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if token == "" {
		return errors.New("--token is required")
	}
	if examID == "" {
		return errors.New("--exam is required")
	}
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("--face-threshold must be in (0, 1], got %g", threshold)
	}

	logger := newLogger()

	deps := capture.Dependencies{
		// Visibility changes are read from stdin, one "hidden"/"visible" per line.
		Visibility: capture.ReaderVisibility{R: os.Stdin},
		Submitter:  capture.NewHTTPSubmitter(server, token),
		Logger:     logger,
		Config: capture.Config{
			Interval:      interval,
			FaceThreshold: threshold,
		},
	}
	if framesDir != "" {
		deps.Camera = capture.DirCamera{Dir: framesDir}
	}
	if classifier != "" {
		deps.Classifier = capture.NewHTTPClassifier(classifier)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := capture.NewLoop(deps)
	loop.Start(ctx, examID)
	<-ctx.Done()
	loop.Stop()

	dctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := loop.Drain(dctx); err != nil {
		logger.Printf("drain: %v", err)
	}
	logger.Printf("exam %s: %d candidates reported", examID, len(loop.History()))
	return nil
}
