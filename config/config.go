// Package config holds the application settings. Defaults are compiled in,
// a TOML file may override them and command line flags override the file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Window describes the native window.
type Window struct {
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Title  string `toml:"title"`
}

// Render tunes the device and the frame loop.
type Render struct {
	FramesInFlight int `toml:"frames_in_flight"`

	// TargetFPS limits the frame rate. Zero means unlimited.
	TargetFPS int `toml:"target_fps"`

	// DeviceIndex picks a physical device by enumeration order. Negative
	// values pick the best suitable one.
	DeviceIndex int `toml:"device_index"`

	Validation       bool     `toml:"validation"`
	ValidationLayers []string `toml:"validation_layers"`
}

// Assets names the files the scene is made of, relative to Dir.
type Assets struct {
	Dir            string `toml:"dir"`
	VertexShader   string `toml:"vertex_shader"`
	FragmentShader string `toml:"fragment_shader"`
	Texture        string `toml:"texture"`

	// Model is an optional OBJ file. Without it a pair of quads is drawn.
	Model string `toml:"model"`

	// Watch reloads changed assets while running.
	Watch bool `toml:"watch"`
}

// Config is the complete application configuration.
type Config struct {
	Debug  bool   `toml:"debug"`
	Window Window `toml:"window"`
	Render Render `toml:"render"`
	Assets Assets `toml:"assets"`
}

// Default returns the built in configuration.
func Default() Config {
	return Config{
		Window: Window{
			Width:  800,
			Height: 600,
			Title:  "Vulkan",
		},
		Render: Render{
			FramesInFlight:   3,
			DeviceIndex:      -1,
			ValidationLayers: []string{"VK_LAYER_KHRONOS_validation"},
		},
		Assets: Assets{
			Dir:            "data",
			VertexShader:   "shaders/vert.spv",
			FragmentShader: "shaders/frag.spv",
			Texture:        "textures/texture.png",
		},
	}
}

// Decode reads TOML from r over the defaults. Unknown keys are an error.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()

	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("unknown settings:\n%s", strict.String())
		}
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Load reads the TOML file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}

	fh, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer fh.Close()

	cfg, err := Decode(fh)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings no session could start with.
func (c Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d is not positive",
			c.Window.Width, c.Window.Height))
	}
	if c.Render.FramesInFlight < 1 {
		errs = append(errs, fmt.Errorf("frames_in_flight must be at least 1, got %d",
			c.Render.FramesInFlight))
	}
	if c.Render.TargetFPS < 0 {
		errs = append(errs, fmt.Errorf("target_fps must not be negative, got %d",
			c.Render.TargetFPS))
	}
	if c.Assets.VertexShader == "" || c.Assets.FragmentShader == "" {
		errs = append(errs, errors.New("both shaders must be named"))
	}
	if c.Assets.Texture == "" {
		errs = append(errs, errors.New("a texture must be named"))
	}
	return errors.Join(errs...)
}

// Parse parses the command line into fs, loads the file named by -config and
// applies every flag which was given explicitly on top of it.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var (
		path   = fs.String("config", "", "path to a TOML configuration file")
		debug  = fs.Bool("debug", false, "enable validation layers and debug logging")
		device = fs.Int("device", -1, "physical device index, negative picks the best one")
		fps    = fs.Int("fps", 0, "frame rate limit, zero for unlimited")
		assets = fs.String("assets", "", "asset directory")
		watch  = fs.Bool("watch", false, "reload changed assets")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
			cfg.Render.Validation = *debug
		case "device":
			cfg.Render.DeviceIndex = *device
		case "fps":
			cfg.Render.TargetFPS = *fps
		case "assets":
			cfg.Assets.Dir = *assets
		case "watch":
			cfg.Assets.Watch = *watch
		}
	})
	return cfg, cfg.Validate()
}
