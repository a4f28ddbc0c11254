// Package config provides configuration management for the surveillance
// pipeline.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Version   string          `yaml:"version"`
	System    SystemConfig    `yaml:"system"`
	Camera    CameraConfig    `yaml:"camera"`
	Motion    MotionConfig    `yaml:"motion"`
	Detection DetectionConfig `yaml:"detection"`
	Zones     ZonesConfig     `yaml:"zones"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Recording RecordingConfig `yaml:"recording"`
	Storage   StorageConfig   `yaml:"storage"`
	Tamper    TamperConfig    `yaml:"tamper"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	API       APIConfig       `yaml:"api"`
	Bus       BusConfig       `yaml:"bus"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Name    string        `yaml:"name"`
	DataDir string        `yaml:"data_dir"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// CameraConfig holds frame source settings.
type CameraConfig struct {
	Address           string  `yaml:"address"`
	Width             int     `yaml:"width"`
	Height            int     `yaml:"height"`
	Channels          int     `yaml:"channels"`
	FPS               int     `yaml:"fps"`
	ConnectTimeoutSec float64 `yaml:"connect_timeout_seconds"`
	ReadTimeoutSec    float64 `yaml:"read_timeout_seconds"`
	MaxFailures       int     `yaml:"max_failures"`
	ReconnectBackoff  float64 `yaml:"reconnect_backoff_seconds"`
}

// MotionConfig holds motion gate settings.
type MotionConfig struct {
	PixelThreshold    int     `yaml:"pixel_threshold"`
	MinArea           int     `yaml:"min_area"`
	BlurRadius        int     `yaml:"blur_radius"`
	LearningRate      float64 `yaml:"learning_rate"`
	CalibrationFrames int     `yaml:"calibration_frames"`
	MinMotionFrames   int     `yaml:"min_motion_frames"`
	CooldownSeconds   float64 `yaml:"cooldown_seconds"`
}

// DetectionConfig holds inference client settings. When Embedded is set the
// process runs its own stub inference server and Address may be empty.
type DetectionConfig struct {
	Address        string  `yaml:"address"`
	Embedded       bool    `yaml:"embedded"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	MinConfidence  float64 `yaml:"min_confidence"`
	JPEGQuality    int     `yaml:"jpeg_quality"`
	FrameSkip      int     `yaml:"frame_skip"`
}

// ZoneConfig holds one detection zone.
type ZoneConfig struct {
	Name    string      `yaml:"name"`
	Color   string      `yaml:"color,omitempty"`
	Enabled bool        `yaml:"enabled"`
	Points  [][]float64 `yaml:"points"` // pixel coordinates, [x, y] pairs
}

// ZonesConfig holds the zone set.
type ZonesConfig struct {
	OverlapThreshold float64      `yaml:"overlap_threshold"`
	Zones            []ZoneConfig `yaml:"zones"`
}

// AlertRuleConfig holds one alert rule.
type AlertRuleConfig struct {
	Level           string  `yaml:"level"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

// AlertsConfig holds alert coordinator settings.
type AlertsConfig struct {
	// GPIOPin selects the hardware actuator; 0 uses the simulated one.
	GPIOPin     int                        `yaml:"gpio_pin"`
	DefaultRule AlertRuleConfig            `yaml:"default_rule"`
	ZoneRules   map[string]AlertRuleConfig `yaml:"zone_rules,omitempty"`
	HistorySize int                        `yaml:"history_size"`
}

// RecordingConfig holds event recorder settings.
type RecordingConfig struct {
	OutputDir          string `yaml:"output_dir"`
	PreBufferSeconds   int    `yaml:"pre_buffer_seconds"`
	PostBufferSeconds  int    `yaml:"post_buffer_seconds"`
	MaxDurationSeconds int    `yaml:"max_duration_seconds"`
	JPEGQuality        int    `yaml:"jpeg_quality"`
}

// StorageConfig holds storage governor settings.
type StorageConfig struct {
	MaxStorageMB           int64 `yaml:"max_storage_mb"`
	CleanupIntervalSeconds int   `yaml:"cleanup_interval_seconds"`
}

// TamperConfig holds tamper monitor settings.
type TamperConfig struct {
	Enabled              bool    `yaml:"enabled"`
	BrightnessThreshold  float64 `yaml:"brightness_threshold"`
	MovementThreshold    float64 `yaml:"movement_threshold"`
	CheckIntervalSeconds float64 `yaml:"check_interval_seconds"`
	HistorySize          int     `yaml:"history_size"`
}

// BehaviorConfig holds behavior model settings.
type BehaviorConfig struct {
	Enabled            bool    `yaml:"enabled"`
	StatePath          string  `yaml:"state_path"`
	LearningPeriodDays int     `yaml:"learning_period_days"`
	MinSamples         int     `yaml:"min_samples"`
	AnomalyThreshold   float64 `yaml:"anomaly_threshold"`
	BucketMinutes      int     `yaml:"bucket_minutes"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// BusConfig holds embedded event bus settings.
type BusConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StoreDir        string `yaml:"store_dir,omitempty"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring the lock (caller must hold it).
func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:   c.Version,
		System:    c.System,
		Camera:    c.Camera,
		Motion:    c.Motion,
		Detection: c.Detection,
		Zones:     c.Zones,
		Alerts:    c.Alerts,
		Recording: c.Recording,
		Storage:   c.Storage,
		Tamper:    c.Tamper,
		Behavior:  c.Behavior,
		API:       c.API,
		Bus:       c.Bus,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Surveillance Pipeline Configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk.
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Camera = newCfg.Camera
	c.Motion = newCfg.Motion
	c.Detection = newCfg.Detection
	c.Zones = newCfg.Zones
	c.Alerts = newCfg.Alerts
	c.Recording = newCfg.Recording
	c.Storage = newCfg.Storage
	c.Tamper = newCfg.Tamper
	c.Behavior = newCfg.Behavior
	c.API = newCfg.API
	c.Bus = newCfg.Bus
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath sets the path for the config file (used for saving).
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path.
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// setDefaults sets default values for unset fields.
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "sentrycam"
	}
	if c.System.DataDir == "" {
		c.System.DataDir = "/data"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}

	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.Channels == 0 {
		c.Camera.Channels = 3
	}
	if c.Camera.FPS == 0 {
		c.Camera.FPS = 10
	}
	if c.Camera.ConnectTimeoutSec == 0 {
		c.Camera.ConnectTimeoutSec = 5
	}
	if c.Camera.ReadTimeoutSec == 0 {
		c.Camera.ReadTimeoutSec = 5
	}
	if c.Camera.MaxFailures == 0 {
		c.Camera.MaxFailures = 10
	}
	if c.Camera.ReconnectBackoff == 0 {
		c.Camera.ReconnectBackoff = 2
	}

	if c.Motion.PixelThreshold == 0 {
		c.Motion.PixelThreshold = 25
	}
	if c.Motion.MinArea == 0 {
		c.Motion.MinArea = 500
	}
	if c.Motion.BlurRadius == 0 {
		c.Motion.BlurRadius = 2
	}
	if c.Motion.LearningRate == 0 {
		c.Motion.LearningRate = 0.01
	}
	if c.Motion.CalibrationFrames == 0 {
		c.Motion.CalibrationFrames = 30
	}
	if c.Motion.MinMotionFrames == 0 {
		c.Motion.MinMotionFrames = 3
	}
	if c.Motion.CooldownSeconds == 0 {
		c.Motion.CooldownSeconds = 2
	}

	if c.Detection.TimeoutSeconds == 0 {
		c.Detection.TimeoutSeconds = 30
	}
	if c.Detection.MinConfidence == 0 {
		c.Detection.MinConfidence = 0.5
	}
	if c.Detection.JPEGQuality == 0 {
		c.Detection.JPEGQuality = 80
	}

	if c.Zones.OverlapThreshold == 0 {
		c.Zones.OverlapThreshold = 0.1
	}

	if c.Alerts.DefaultRule.Level == "" {
		c.Alerts.DefaultRule.Level = "warning"
	}
	if c.Alerts.DefaultRule.DurationSeconds == 0 {
		c.Alerts.DefaultRule.DurationSeconds = 2
	}
	if c.Alerts.DefaultRule.CooldownSeconds == 0 {
		c.Alerts.DefaultRule.CooldownSeconds = 30
	}
	if c.Alerts.HistorySize == 0 {
		c.Alerts.HistorySize = 100
	}

	if c.Recording.OutputDir == "" {
		c.Recording.OutputDir = c.System.DataDir + "/recordings"
	}
	if c.Recording.PreBufferSeconds == 0 {
		c.Recording.PreBufferSeconds = 5
	}
	if c.Recording.PostBufferSeconds == 0 {
		c.Recording.PostBufferSeconds = 10
	}
	if c.Recording.MaxDurationSeconds == 0 {
		c.Recording.MaxDurationSeconds = 300
	}
	if c.Recording.JPEGQuality == 0 {
		c.Recording.JPEGQuality = 80
	}

	if c.Storage.MaxStorageMB == 0 {
		c.Storage.MaxStorageMB = 1024
	}
	if c.Storage.CleanupIntervalSeconds == 0 {
		c.Storage.CleanupIntervalSeconds = 300
	}

	if c.Tamper.BrightnessThreshold == 0 {
		c.Tamper.BrightnessThreshold = 30
	}
	if c.Tamper.MovementThreshold == 0 {
		c.Tamper.MovementThreshold = 0.5
	}
	if c.Tamper.CheckIntervalSeconds == 0 {
		c.Tamper.CheckIntervalSeconds = 1
	}
	if c.Tamper.HistorySize == 0 {
		c.Tamper.HistorySize = 30
	}

	if c.Behavior.StatePath == "" {
		c.Behavior.StatePath = c.System.DataDir + "/behavior.json"
	}
	if c.Behavior.LearningPeriodDays == 0 {
		c.Behavior.LearningPeriodDays = 7
	}
	if c.Behavior.MinSamples == 0 {
		c.Behavior.MinSamples = 10
	}
	if c.Behavior.AnomalyThreshold == 0 {
		c.Behavior.AnomalyThreshold = 2.5
	}
	if c.Behavior.BucketMinutes == 0 {
		c.Behavior.BucketMinutes = 30
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12001
	}
}

// Validate rejects configurations the pipeline cannot start with.
func (c *Config) Validate() error {
	if c.Camera.Address == "" {
		return fmt.Errorf("camera.address must be set")
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera dimensions must be positive")
	}
	if c.Camera.Channels != 1 && c.Camera.Channels != 3 {
		return fmt.Errorf("camera.channels must be 1 or 3, got %d", c.Camera.Channels)
	}
	if c.Detection.Address == "" && !c.Detection.Embedded {
		return fmt.Errorf("detection.address must be set unless detection.embedded is enabled")
	}
	if c.Detection.MinConfidence < 0 || c.Detection.MinConfidence > 1 {
		return fmt.Errorf("detection.min_confidence must be in [0, 1]")
	}
	if c.Zones.OverlapThreshold <= 0 || c.Zones.OverlapThreshold > 1 {
		return fmt.Errorf("zones.overlap_threshold must be in (0, 1]")
	}
	for _, z := range c.Zones.Zones {
		if z.Name == "" {
			return fmt.Errorf("every zone needs a name")
		}
		if len(z.Points) < 3 {
			return fmt.Errorf("zone %q: polygon needs at least 3 points", z.Name)
		}
		for _, p := range z.Points {
			if len(p) != 2 {
				return fmt.Errorf("zone %q: points must be [x, y] pairs", z.Name)
			}
		}
	}
	for _, level := range c.alertLevels() {
		switch level {
		case "info", "warning", "critical":
		default:
			return fmt.Errorf("invalid alert level %q", level)
		}
	}
	return nil
}

func (c *Config) alertLevels() []string {
	levels := []string{c.Alerts.DefaultRule.Level}
	for _, r := range c.Alerts.ZoneRules {
		if r.Level != "" {
			levels = append(levels, r.Level)
		}
	}
	return levels
}
