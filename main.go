package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"time"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-lifetime/assets"
	"vulkan-lifetime/config"
	"vulkan-lifetime/driver"
	"vulkan-lifetime/geometry"
	"vulkan-lifetime/platform"
	"vulkan-lifetime/render"
)

func init() {
	// This is needed to arrange that main() runs on main thread.
	// See documentation for functions that are only allowed to be called
	// from the main thread.
	runtime.LockOSThread()
}

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app := &App{cfg: cfg, logger: logger}
	if err := app.Run(); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

// App draws a textured scene until its window is closed.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	window     *platform.Window
	ctx        *render.Context
	cache      *assets.Cache
	watcher    *assets.Watcher
	swapchain  *render.Swapchain
	renderPass *render.OwnedRenderPass
	pipeline   *render.Pipeline
	sampler    *render.OwnedSampler
	scene      render.Scene
	frames     *render.FramePool
	renderer   *render.Renderer
}

// Run brings every component up, runs the frame loop and tears everything
// down again in reverse order.
func (a *App) Run() error {
	window, err := platform.Open(a.cfg.Window)
	if err != nil {
		return fmt.Errorf("initWindow: %w", err)
	}
	a.window = window
	defer a.window.Close()

	if err := a.initVulkan(); err != nil {
		return fmt.Errorf("initVulkan: %w", err)
	}
	defer a.cleanVulkan()

	if err := a.mainLoop(); err != nil {
		return fmt.Errorf("mainLoop: %w", err)
	}
	return nil
}

func (a *App) initVulkan() error {
	drv, err := driver.NewVulkan(platform.ProcAddr())
	if err != nil {
		return err
	}

	instanceCfg := render.InstanceConfig{
		AppName:    a.cfg.Window.Title,
		Extensions: a.window.RequiredExtensions(),
	}
	if a.cfg.Render.Validation {
		instanceCfg.Layers = a.cfg.Render.ValidationLayers
	}

	a.ctx, err = render.NewContext(drv, a.logger, render.ContextConfig{
		Instance:      instanceCfg,
		DeviceIndex:   a.cfg.Render.DeviceIndex,
		CreateSurface: a.window.CreateSurface,
	})
	if err != nil {
		return fmt.Errorf("createContext: %w", err)
	}

	a.cache = assets.NewCache(a.ctx, os.DirFS(a.cfg.Assets.Dir), a.logger)

	a.swapchain, err = render.NewSwapchain(a.ctx, a.window)
	if err != nil {
		return fmt.Errorf("createSwapchain: %w", err)
	}
	a.window.OnResize(a.swapchain.NotifyStale)

	a.renderPass, err = render.CreateRenderPass(a.ctx, render.RenderPassConfig{
		ColorFormat: a.swapchain.Format(),
		DepthFormat: a.swapchain.DepthFormat(),
		Final:       true,
	})
	if err != nil {
		return fmt.Errorf("createRenderPass: %w", err)
	}
	a.swapchain.SetRenderPass(a.renderPass.Must())

	a.pipeline, err = a.createPipeline()
	if err != nil {
		return fmt.Errorf("createGraphicsPipeline: %w", err)
	}

	texture, err := a.cache.Texture(a.cfg.Assets.Texture)
	if err != nil {
		return fmt.Errorf("createTextureImage: %w", err)
	}

	a.sampler, err = render.CreateSampler(a.ctx)
	if err != nil {
		return fmt.Errorf("createTextureSampler: %w", err)
	}

	a.scene, err = a.loadScene()
	if err != nil {
		return fmt.Errorf("loadScene: %w", err)
	}

	a.frames, err = render.NewFramePool(a.ctx, render.FramePoolConfig{
		Frames:      a.cfg.Render.FramesInFlight,
		UniformSize: render.UniformSize,
		SetLayout:   a.pipeline.SetLayout(),
		TextureView: texture.View(),
		Sampler:     a.sampler.Must(),
	})
	if err != nil {
		return fmt.Errorf("createFramePool: %w", err)
	}

	a.renderer = render.NewRenderer(a.ctx, a.swapchain, a.frames, a.pipeline, a.scene,
		render.RendererConfig{
			TargetFPS: a.cfg.Render.TargetFPS,
			Logger:    a.logger,
		})

	if a.cfg.Assets.Watch {
		a.watcher, err = assets.Watch(a.cfg.Assets.Dir, a.logger)
		if err != nil {
			return fmt.Errorf("watchAssets: %w", err)
		}
	}

	return nil
}

// createPipeline builds a graphics pipeline from the configured shaders. The
// shader modules stay in the asset cache.
func (a *App) createPipeline() (*render.Pipeline, error) {
	vert, err := a.cache.Shader(a.cfg.Assets.VertexShader)
	if err != nil {
		return nil, err
	}
	frag, err := a.cache.Shader(a.cfg.Assets.FragmentShader)
	if err != nil {
		return nil, err
	}

	return render.NewPipeline(a.ctx, render.PipelineSpec{
		VertexShader:   vert,
		FragmentShader: frag,
		Binding:        geometry.BindingDescription(),
		Attributes:     geometry.AttributeDescriptions(),
		RenderPass:     a.renderPass.Must(),
	})
}

// loadScene uploads the configured model, or two stacked quads without one.
func (a *App) loadScene() (render.Scene, error) {
	mesh := geometry.Combine(geometry.Quad(0), geometry.Quad(-0.5))
	if a.cfg.Assets.Model != "" {
		var err error
		mesh, err = a.cache.Model(a.cfg.Assets.Model)
		if err != nil {
			return render.Scene{}, err
		}
	}

	vertices, err := render.UploadBuffer(a.ctx, mesh.VertexBytes(),
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return render.Scene{}, fmt.Errorf("createVertexBuffer: %w", err)
	}

	indices, err := render.UploadBuffer(a.ctx, mesh.IndexBytes(),
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	if err != nil {
		vertices.Destroy()
		return render.Scene{}, fmt.Errorf("createIndexBuffer: %w", err)
	}

	return render.Scene{
		Vertices:   vertices,
		Indices:    indices,
		IndexCount: mesh.IndexCount(),
		IndexType:  geometry.IndexType,
	}, nil
}

func (a *App) mainLoop() error {
	a.logger.Info("main loop", "frames_in_flight", a.cfg.Render.FramesInFlight,
		"target_fps", a.cfg.Render.TargetFPS)
	defer a.logStats()

	for !a.window.ShouldClose() {
		a.window.PollEvents()

		if a.watcher != nil {
			if err := a.reloadAssets(); err != nil {
				return err
			}
		}

		outcome, err := a.renderer.DrawFrame()
		if errors.Is(err, render.ErrShutdown) {
			a.logger.Warn("presentation ended", "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("error drawing a frame: %w", err)
		}

		switch outcome {
		case render.SkippedNoSwapchain:
			// Minimized: nothing to draw until the window changes.
			a.window.WaitEvents()
		case render.Throttled:
			time.Sleep(time.Millisecond)
		}
	}

	return a.ctx.WaitIdle()
}

func (a *App) logStats() {
	stats := a.renderer.Stats()
	a.logger.Info("frames", "drawn", stats.Drawn, "dropped", stats.Dropped)
}

// reloadAssets applies changed files. A broken asset is logged and the old
// one stays in use.
func (a *App) reloadAssets() error {
	evicted := a.watcher.Apply(a.cache)
	if len(evicted) == 0 {
		return nil
	}

	if slices.Contains(evicted, a.cfg.Assets.VertexShader) ||
		slices.Contains(evicted, a.cfg.Assets.FragmentShader) {
		if err := a.reloadPipeline(); err != nil {
			if errors.Is(err, render.ErrShutdown) {
				return err
			}
			a.logger.Error("reloading shaders", "err", err)
		}
	}

	if slices.Contains(evicted, a.cfg.Assets.Texture) {
		texture, err := a.cache.Texture(a.cfg.Assets.Texture)
		if err != nil {
			a.logger.Error("reloading texture", "err", err)
		} else if err := a.frames.BindTexture(texture.View(), a.sampler.Must()); err != nil {
			return err
		}
	}

	if a.cfg.Assets.Model != "" && slices.Contains(evicted, a.cfg.Assets.Model) {
		scene, err := a.loadScene()
		if err != nil {
			a.logger.Error("reloading model", "err", err)
			return nil
		}
		if err := a.ctx.WaitIdle(); err != nil {
			scene.Indices.Destroy()
			scene.Vertices.Destroy()
			return err
		}
		a.renderer.SetScene(scene)
		a.scene.Indices.Destroy()
		a.scene.Vertices.Destroy()
		a.scene = scene
	}

	return nil
}

func (a *App) reloadPipeline() error {
	pipeline, err := a.createPipeline()
	if err != nil {
		return err
	}
	if err := a.ctx.WaitIdle(); err != nil {
		pipeline.Destroy()
		return err
	}

	a.renderer.SetPipeline(pipeline)
	a.pipeline.Destroy()
	a.pipeline = pipeline
	a.logger.Info("pipeline rebuilt")
	return nil
}

// cleanVulkan releases everything initVulkan made, newest first. Fields left
// nil by a failed initVulkan are skipped.
func (a *App) cleanVulkan() {
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("closing watcher", "err", err)
		}
	}
	if a.frames != nil {
		_ = a.frames.Destroy()
	}
	if a.scene.Indices != nil {
		a.scene.Indices.Destroy()
	}
	if a.scene.Vertices != nil {
		a.scene.Vertices.Destroy()
	}
	a.sampler.Destroy()
	a.pipeline.Destroy()
	if a.swapchain != nil {
		_ = a.swapchain.Destroy()
	}
	a.renderPass.Destroy()
	if a.cache != nil {
		a.cache.Close()
	}
	if a.ctx != nil {
		if err := a.ctx.Close(); err != nil {
			a.logger.Warn("closing device", "err", err)
		}
	}
}
