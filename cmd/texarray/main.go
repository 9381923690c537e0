// Command texarray runs the texture load-test samples: it opens an SDL
// window, brings up a Vulkan device and renders the sample named on the
// command line until the window is closed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/google/uuid"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/sync/errgroup"

	"github.com/ktxgo/texarray/loadtest"
	"github.com/ktxgo/texarray/render"
)

type config struct {
	width      int
	height     int
	sample     string
	assets     string
	validation bool
}

// parseConfig reads flags with TEXARRAY_* environment variables as
// fallback defaults.
func parseConfig() (*config, error) {
	cfg := &config{}

	defaultWidth, err := strconv.Atoi(envy.Get("TEXARRAY_WIDTH", "1280"))
	if err != nil {
		return nil, errors.Wrap(err, "TEXARRAY_WIDTH is not a number")
	}
	defaultHeight, err := strconv.Atoi(envy.Get("TEXARRAY_HEIGHT", "720"))
	if err != nil {
		return nil, errors.Wrap(err, "TEXARRAY_HEIGHT is not a number")
	}

	flag.IntVar(&cfg.width, "width", defaultWidth, "window width in pixels")
	flag.IntVar(&cfg.height, "height", defaultHeight, "window height in pixels")
	flag.StringVar(&cfg.sample, "sample", envy.Get("TEXARRAY_SAMPLE", "texture-array"),
		fmt.Sprintf("sample to run, one of %v", loadtest.Names()))
	flag.StringVar(&cfg.assets, "assets", envy.Get("TEXARRAY_ASSETS", "assets"),
		"asset directory holding textures, shaders and samples.toml")
	flag.BoolVar(&cfg.validation, "validation", envy.Get("TEXARRAY_VALIDATION", "true") == "true",
		"enable the Khronos validation layer")
	flag.Parse()

	if cfg.width <= 0 || cfg.height <= 0 {
		return nil, errors.Newf("window size %dx%d is not valid", cfg.width, cfg.height)
	}
	return cfg, nil
}

// preflightAssets confirms that every file the sample will read exists
// before any GPU state is created, so a missing asset fails fast with a
// clear error instead of mid-setup.
func preflightAssets(cfg *config, entry loadtest.ManifestEntry) error {
	group, _ := errgroup.WithContext(context.Background())

	paths := []string{
		filepath.Join(cfg.assets, entry.Args),
		filepath.Join(cfg.assets, "shaders", "instancing.vert.spv"),
		filepath.Join(cfg.assets, "shaders", "instancing.frag.spv"),
	}
	for _, path := range paths {
		path := path
		group.Go(func() error {
			_, err := os.Stat(path)
			return errors.Wrapf(err, "missing asset %q", path)
		})
	}

	return group.Wait()
}

type app struct {
	logger *log.Logger
	cfg    *config

	window *sdl.Window
	ctx    *render.Context
	sample loadtest.Sample
}

func (a *app) run() error {
	manifest, err := loadtest.LoadManifest(filepath.Join(a.cfg.assets, "samples.toml"))
	if err != nil {
		return err
	}
	entry, ok := manifest.Lookup(a.cfg.sample)
	if !ok {
		return errors.Newf("sample %q is not in the manifest", a.cfg.sample)
	}

	err = preflightAssets(a.cfg, entry)
	if err != nil {
		return err
	}

	err = sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS)
	if err != nil {
		return errors.Wrap(err, "initialize SDL")
	}
	defer sdl.Quit()

	err = sdl.VulkanLoadLibrary("")
	if err != nil {
		return errors.Wrap(err, "load the Vulkan library")
	}
	defer sdl.VulkanUnloadLibrary()

	title := entry.Title
	if title == "" {
		title = entry.Name
	}
	a.window, err = sdl.CreateWindow(title,
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(a.cfg.width), int32(a.cfg.height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE|sdl.WINDOW_VULKAN)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	defer a.window.Destroy()

	a.ctx, err = render.New(a.window, render.Options{
		AppName:          title,
		EnableValidation: a.cfg.validation,
		Logger:           a.logger,
	})
	if err != nil {
		return err
	}
	defer a.ctx.Destroy()

	a.sample, err = loadtest.Create(entry.Name, a.ctx, a.cfg.width, a.cfg.height, entry.Args, a.cfg.assets)
	if err != nil {
		return err
	}
	defer a.sample.Close()

	err = a.mainLoop()
	if err != nil {
		return err
	}

	return a.ctx.WaitIdle()
}

func (a *app) mainLoop() error {
	rendering := true
	start := hrtime.Now()

	frames := 0
	lastReport := start

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_SIZE_CHANGED:
					w, h := a.window.GetSize()
					if w > 0 && h > 0 {
						rendering = true
						err := a.resize(int(w), int(h))
						if err != nil {
							return err
						}
					} else {
						rendering = false
					}
				}
			}
		}

		if !rendering {
			continue
		}

		err := a.sample.Run(float64(hrtime.Since(start)) / float64(time.Millisecond))
		if err != nil {
			return err
		}

		err = a.ctx.DrawFrame()
		if errors.Is(err, render.ErrSwapchainOutOfDate) {
			w, h := a.window.GetSize()
			err = a.resize(int(w), int(h))
		}
		if err != nil {
			return err
		}

		frames++
		if hrtime.Since(lastReport) >= 5*time.Second {
			elapsed := hrtime.Since(lastReport).Seconds()
			a.logger.Debug("frame rate", "fps", fmt.Sprintf("%.1f", float64(frames)/elapsed))
			frames = 0
			lastReport = hrtime.Now()
		}
	}

	return nil
}

// resize rebuilds the swapchain and lets the sample re-record its draw
// command buffers against the new framebuffers.
func (a *app) resize(width, height int) error {
	err := a.ctx.RecreateSwapchain()
	if err != nil {
		return err
	}
	return a.sample.Resize(width, height)
}

func main() {
	runtime.LockOSThread()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "texarray",
	})
	if envy.Get("TEXARRAY_DEBUG", "") != "" {
		logger.SetLevel(log.DebugLevel)
	}

	cfg, err := parseConfig()
	if err != nil {
		logger.Fatalf("%+v", err)
	}

	logger.Info("starting load test",
		"run", uuid.New().String(),
		"sample", cfg.sample,
		"size", fmt.Sprintf("%dx%d", cfg.width, cfg.height))

	a := &app{logger: logger, cfg: cfg}
	err = a.run()
	if err != nil {
		logger.Fatalf("%+v", err)
	}
}
