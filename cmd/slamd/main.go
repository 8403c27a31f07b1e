package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slam-pipeline/internal/pipeline"
	"slam-pipeline/internal/platform/clock"
	"slam-pipeline/internal/platform/config"
	"slam-pipeline/internal/platform/logger"
	"slam-pipeline/internal/platform/metrics"
	"slam-pipeline/internal/sim"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	clk := clock.Real{}
	origin := clk.Now()
	imu := sim.NewIMU(clk, origin, cfg.SimIMURateHz, sim.DefaultMotion, origin.UnixNano())
	cam := sim.NewCamera(clk, origin, cfg.FrameWidth, cfg.FrameHeight, cfg.SimCameraFPS)

	coord := pipeline.NewCoordinator(
		pipeline.Config{
			PollInterval:    cfg.WorkerPollInterval,
			MaxQueuedEvents: cfg.MaxQueuedEvents,
			StartPaused:     cfg.StartPaused,
		},
		pipeline.Sensors{Frames: cam, Accel: imu.Accel(), Gyro: imu.Gyro()},
		sim.NewEngineFactory(sim.EngineConfig{
			Latency:   cfg.SimTrackLatency,
			FailAfter: cfg.SimFailAfter,
		}),
		pipeline.WithLogger(log),
		pipeline.WithRecorder(met),
		pipeline.WithClock(clk),
	)
	h := pipeline.NewHandler(coord, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			st := coord.Status()
			met.SetQueueDepth("accel", st.QueuedAccel)
			met.SetQueueDepth("gyro", st.QueuedGyro)
			met.SetWorkerBusy(st.WorkerBusy)
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		log.Error("pipeline start failed", "error", err)
		os.Exit(1)
	}

	log.Info("server starting",
		"port", cfg.Port,
		"tick_interval", cfg.TickInterval,
		"sim_track_latency", cfg.SimTrackLatency,
		"log_level", cfg.LogLevel,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runTicks(gctx, coord, cfg.TickInterval, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	if serr := coord.Stop(); serr != nil {
		log.Error("pipeline stop error", "error", serr)
	}
	if err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// runTicks drives the coordinator at the render cadence until ctx is done.
// An engine failure stops the pipeline but not the process, so the final
// status remains available over HTTP until shutdown.
func runTicks(ctx context.Context, coord *pipeline.Coordinator, every time.Duration, log *slog.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		out, err := coord.Tick()
		switch {
		case errors.Is(err, pipeline.ErrNotRunning):
			continue
		case err != nil:
			log.Error("pipeline stopped", "error", err, "last_status", coord.Status().LastStatus.String())
			continue
		case out == nil:
			continue
		}

		log.Debug("tracking result",
			"seq", out.Seq,
			"status", out.Status.String(),
			"processing_ms", out.ProcessingTime.Milliseconds(),
			"frames_dropped", out.FramesDropped,
			"position", out.Pose.Translation(),
		)
	}
}
