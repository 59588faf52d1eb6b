// Command fluidsim runs a stable fluids simulation headless, writes PNG
// snapshots and optionally streams the frames to a browser.
//
// Usage:
//
//	fluidsim -grid 128 -frames 200 -out frames -every 10 -scale 4
//	fluidsim -config sim.json -serve :8080 -frames 0
//
// Flags given on the command line override the values of -config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gogpu/fluid"
	"github.com/gogpu/fluid/backend"
	_ "github.com/gogpu/fluid/backend/cpu"
	_ "github.com/gogpu/fluid/backend/native"
	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/fluid/internal/stream"
	_ "github.com/gogpu/wgpu/hal/allbackends"
)

type options struct {
	configPath string
	grid       uint
	steps      int
	frames     int
	dt         float64
	diff       float64
	visc       float64
	iters      int
	display    string
	gain       float64
	backend    string
	out        string
	every      int
	scale      int
	serve      string
	fps        int
	verbose    bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "JSON configuration file")
	flag.UintVar(&o.grid, "grid", 128, "interior cells per axis")
	flag.IntVar(&o.steps, "steps", 1, "simulation steps per frame")
	flag.IntVar(&o.frames, "frames", 100, "frames to render (0 with -serve runs until interrupted)")
	flag.Float64Var(&o.dt, "dt", 0.1, "time step")
	flag.Float64Var(&o.diff, "diff", 0.0001, "density diffusion rate")
	flag.Float64Var(&o.visc, "visc", 0.0001, "viscosity")
	flag.IntVar(&o.iters, "iters", 20, "relaxation sweeps for diffusion and pressure")
	flag.StringVar(&o.display, "display", "density", "displayed quantity: density, tracer or speed")
	flag.Float64Var(&o.gain, "gain", 1, "display gain")
	flag.StringVar(&o.backend, "backend", "auto", "device backend: native, cpu or auto")
	flag.StringVar(&o.out, "out", "", "directory for PNG snapshots")
	flag.IntVar(&o.every, "every", 10, "write a snapshot every N frames")
	flag.IntVar(&o.scale, "scale", 1, "snapshot upscale factor")
	flag.StringVar(&o.serve, "serve", "", "stream frames over WebSocket on this address, e.g. :8080")
	flag.IntVar(&o.fps, "fps", 30, "frame rate limit while serving")
	flag.BoolVar(&o.verbose, "v", false, "verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	fluid.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o, setFlags(), logger); err != nil {
		log.Fatalf("fluidsim: %v", err)
	}
}

// setFlags returns the names of the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// buildConfig applies the flags over the config file, or over the
// defaults when there is none.
func buildConfig(o options, set map[string]bool) (*fluid.Config, error) {
	grid := uint32(o.grid)
	var opts []fluid.Option
	if o.configPath != "" {
		f, err := fluid.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, err
		}
		fileOpts, err := f.Options()
		if err != nil {
			return nil, err
		}
		opts = fileOpts
		if !set["grid"] && f.GridSize != 0 {
			grid = f.GridSize
		}
	} else {
		// Without a file every flag counts, including defaults.
		for _, name := range []string{"steps", "dt", "diff", "visc", "iters", "display", "gain"} {
			set[name] = true
		}
	}

	if set["steps"] {
		opts = append(opts, fluid.WithStepsPerFrame(o.steps))
	}
	if set["dt"] {
		opts = append(opts, fluid.WithTimeStep(float32(o.dt)))
	}
	if set["diff"] {
		opts = append(opts, fluid.WithDiffusion(float32(o.diff)))
	}
	if set["visc"] {
		opts = append(opts, fluid.WithViscosity(float32(o.visc)))
	}
	if set["iters"] {
		opts = append(opts, fluid.WithIterations(o.iters))
	}
	if set["display"] {
		m, err := fluid.ParseDisplayMode(o.display)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fluid.WithDisplay(m))
	}
	if set["gain"] {
		opts = append(opts, fluid.WithGain(float32(o.gain)))
	}
	return fluid.NewConfig(grid, opts...)
}

func openDevice(name string) (gpucore.Device, error) {
	if name == "auto" {
		return backend.Default()
	}
	return backend.Open(name)
}

func run(ctx context.Context, o options, set map[string]bool, logger *slog.Logger) error {
	cfg, err := buildConfig(o, set)
	if err != nil {
		return err
	}
	if o.frames <= 0 && o.serve == "" {
		return errors.New("-frames must be positive unless -serve is given")
	}
	if o.every <= 0 {
		return errors.New("-every must be positive")
	}

	dev, err := openDevice(o.backend)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Destroy()
	logger.Info("device opened", "backend", dev.Name())

	sim, err := fluid.NewSimulationPipeline(ctx, dev, cfg, seed(cfg))
	if err != nil {
		return err
	}
	defer sim.Destroy()

	present, err := fluid.NewPresentationStage(ctx, dev, cfg, sim, fluid.DefaultColormap())
	if err != nil {
		return err
	}
	defer present.Destroy()

	orch, err := fluid.NewFrameOrchestrator(dev, cfg, sim, present)
	if err != nil {
		return err
	}
	defer orch.Close()

	n := cfg.GridSize
	target, err := dev.CreateRenderTarget(&gpucore.RenderTargetDesc{
		Label:  "frame",
		Width:  n,
		Height: n,
		Format: cfg.TargetFormat,
	})
	if err != nil {
		return err
	}
	defer dev.DestroyRenderTarget(target)

	if o.out != "" {
		if err := os.MkdirAll(o.out, 0o755); err != nil {
			return err
		}
	}

	// Splats from stream clients arrive in normalized frame coordinates.
	// The first one replaces the seeded sources.
	brush, err := fluid.NewBrush(cfg, 1, 1)
	if err != nil {
		return err
	}

	var hub *stream.Hub
	var tick <-chan time.Time
	if o.serve != "" {
		hub = stream.NewHub(
			stream.WithScale(o.scale),
			stream.WithLogger(logger),
			stream.WithSplatHandler(func(s stream.Splat) {
				brush.Splat(s.X, s.Y, s.DX, s.DY, s.Amount)
			}),
		)
		defer hub.Close()
		srv := &http.Server{Addr: o.serve, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("stream server failed", "err", err)
			}
		}()
		defer srv.Close()
		logger.Info("streaming", "url", "http://"+displayAddr(o.serve)+"/")

		if o.fps > 0 {
			ticker := time.NewTicker(time.Second / time.Duration(o.fps))
			defer ticker.Stop()
			tick = ticker.C
		}
	}

	start := time.Now()
	for frame := 1; o.frames <= 0 || frame <= o.frames; frame++ {
		if err := ctx.Err(); err != nil {
			logger.Info("interrupted", "frame", frame)
			break
		}
		if err := brush.Flush(sim); err != nil {
			return err
		}
		if err := orch.RenderFrame(target); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}

		snapshot := o.out != "" && frame%o.every == 0
		if !snapshot && hub == nil {
			continue
		}
		img, err := dev.ReadRenderTarget(target)
		if err != nil {
			return fmt.Errorf("frame %d: read back: %w", frame, err)
		}
		if snapshot {
			path := filepath.Join(o.out, fmt.Sprintf("frame_%05d.png", frame))
			if err := writePNG(path, stream.Scale(img, o.scale)); err != nil {
				return err
			}
			logger.Debug("snapshot written", "path", path)
		}
		if hub != nil {
			if err := hub.Publish(img); err != nil {
				return err
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
				}
			}
		}
	}

	stats := orch.Stats()
	elapsed := time.Since(start)
	logger.Info("done",
		"frames", stats.Frames,
		"steps", stats.Steps,
		"elapsed", elapsed.Round(time.Millisecond),
		"fps", fmt.Sprintf("%.1f", float64(stats.Frames)/elapsed.Seconds()))
	return nil
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
