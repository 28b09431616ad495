package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	stackprobe "github.com/fllarpy/stackprobe"
	"github.com/fllarpy/stackprobe/config"
	"github.com/fllarpy/stackprobe/domain/profile"
	"github.com/fllarpy/stackprobe/exporter"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx := context.Background()
	target := stackprobe.NewTargetID()
	go stackprobe.Do(ctx, target, busyWorker)

	files := exporter.NewPprofExporter("./profiles", logger)

	// First run uses a completed callback to write a pprof file as soon
	// as the profile lands.
	first := stackprobe.NewProfiler(target, cfg.SamplingParams())
	done := make(chan struct{})
	first.SetCompletedCallback(func(p *profile.Profile) {
		logger.WithFields(logrus.Fields{
			"samples":  len(p.Samples),
			"modules":  len(p.Modules),
			"duration": p.ProfileDuration,
		}).Info("first profiling run complete")
		files.Deliver(p)
		close(done)
	})
	first.Start()
	<-done

	// Follow-up runs go to the default sink and are served over HTTP.
	go func() {
		for {
			p := stackprobe.NewProfiler(target, cfg.SamplingParams())
			p.Start()
			time.Sleep(cfg.BurstInterval*time.Duration(cfg.Bursts) + 5*time.Second)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/debug/stackprobe", stackprobe.Handler())

	log.Printf("Starting server for service '%s' on :8080", cfg.ServiceName)
	log.Println("Pending profiles endpoint: http://localhost:8080/debug/stackprobe")
	log.Println("Written pprof files land under ./profiles")

	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.Fatalf("could not start server: %v", err)
	}
}

// busyWorker burns CPU on the tagged goroutine so the profiler has
// something to sample.
func busyWorker(ctx context.Context) {
	seed := []byte("stackprobe-example")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sum := sha256.Sum256(seed)
		seed = append(seed[:0], fmt.Sprintf("%x", sum)...)
		time.Sleep(time.Millisecond)
	}
}
