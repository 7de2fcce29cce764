package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/turnstile/internal/engine"
	"github.com/andresmejia3/turnstile/internal/sink"
	"gopkg.in/yaml.v3"
)

// Config is the complete turnstile configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Engine   engine.Config `yaml:"engine"`
	Camera   CameraConfig  `yaml:"camera"`
	Worker   WorkerConfig  `yaml:"worker"`
	Gallery  GalleryConfig `yaml:"gallery"`
	Sinks    SinksConfig   `yaml:"sinks"`
	Render   RenderConfig  `yaml:"render"`
}

// CameraConfig describes the ffmpeg capture input.
type CameraConfig struct {
	Input    string `yaml:"input"`  // device, file or stream URL
	Format   string `yaml:"format"` // ffmpeg demuxer, e.g. v4l2
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	FPS      int    `yaml:"fps"`
	Realtime bool   `yaml:"realtime"`
	// LatestOnly drops stale frames instead of queueing them.
	LatestOnly bool `yaml:"latest_only"`
}

// WorkerConfig locates the Python inference worker.
type WorkerConfig struct {
	Script       string   `yaml:"script"`
	Args         []string `yaml:"args"`
	MaxImageSize int      `yaml:"max_image_size"` // longest edge of reference images sent during enroll
}

// GalleryConfig points at the reference-face directory.
type GalleryConfig struct {
	Dir        string        `yaml:"dir"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Watch      bool          `yaml:"watch"`
}

// SinksConfig selects where attendance events go besides PostgreSQL.
type SinksConfig struct {
	CSVDir string          `yaml:"csv_dir"` // empty disables the CSV sink
	MQTT   sink.MQTTConfig `yaml:"mqtt"`    // empty broker disables MQTT
}

// RenderConfig controls annotated output.
type RenderConfig struct {
	Output    string `yaml:"output"`    // annotated video path, empty disables it
	Snapshots string `yaml:"snapshots"` // confirmation snapshot directory, empty disables it
	FPS       int    `yaml:"fps"`
}

// Default returns a configuration that runs against the first local webcam.
func Default() Config {
	return Config{
		LogLevel: "info",
		Engine:   engine.DefaultConfig(),
		Camera: CameraConfig{
			Input:      "/dev/video0",
			Format:     "v4l2",
			Width:      640,
			Height:     480,
			FPS:        15,
			LatestOnly: true,
		},
		Worker: WorkerConfig{
			Script:       "python/worker.py",
			MaxImageSize: 1280,
		},
		Gallery: GalleryConfig{
			Dir:        "known_faces",
			StaleAfter: 10 * time.Minute,
			Watch:      true,
		},
		Sinks: SinksConfig{
			CSVDir: "attendance",
			MQTT: sink.MQTTConfig{
				Topic:   "turnstile/attendance",
				QoS:     1,
				Timeout: 2 * time.Second,
			},
		},
		Render: RenderConfig{
			FPS: 15,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates
// the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Camera.Input = envString("TURNSTILE_CAMERA", cfg.Camera.Input)
	cfg.Gallery.Dir = envString("TURNSTILE_GALLERY_DIR", cfg.Gallery.Dir)
	cfg.Sinks.CSVDir = envString("TURNSTILE_CSV_DIR", cfg.Sinks.CSVDir)
	cfg.Sinks.MQTT.Broker = envString("TURNSTILE_MQTT_BROKER", cfg.Sinks.MQTT.Broker)
	cfg.Worker.Script = envString("TURNSTILE_WORKER_SCRIPT", cfg.Worker.Script)
	cfg.Camera.FPS = envInt("TURNSTILE_FPS", cfg.Camera.FPS)
	cfg.Engine.AntiSpoofEnabled = envBool("TURNSTILE_ANTI_SPOOF", cfg.Engine.AntiSpoofEnabled)
	cfg.LogLevel = envString("TURNSTILE_LOG_LEVEL", cfg.LogLevel)
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Camera.Input == "" {
		errs = append(errs, errors.New("camera: input is required"))
	}
	if c.Camera.FPS < 0 {
		errs = append(errs, fmt.Errorf("camera: fps must be >= 0, got %d", c.Camera.FPS))
	}
	if (c.Camera.Width == 0) != (c.Camera.Height == 0) {
		errs = append(errs, errors.New("camera: width and height must be set together"))
	}
	if c.Worker.Script == "" {
		errs = append(errs, errors.New("worker: script is required"))
	}
	if c.Gallery.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("gallery: stale_after must be >= 0, got %s", c.Gallery.StaleAfter))
	}
	if c.Sinks.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("sinks.mqtt: qos must be 0, 1 or 2, got %d", c.Sinks.MQTT.QoS))
	}
	if c.Render.Output != "" && c.Render.FPS < 1 {
		errs = append(errs, fmt.Errorf("render: fps must be >= 1 when output is set, got %d", c.Render.FPS))
	}
	return errors.Join(errs...)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}
