// Package main is the surveillance pipeline entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sentrycam/sentrycam/internal/alerts"
	"github.com/sentrycam/sentrycam/internal/api"
	"github.com/sentrycam/sentrycam/internal/behavior"
	"github.com/sentrycam/sentrycam/internal/camera"
	"github.com/sentrycam/sentrycam/internal/config"
	"github.com/sentrycam/sentrycam/internal/core"
	"github.com/sentrycam/sentrycam/internal/database"
	"github.com/sentrycam/sentrycam/internal/detect"
	"github.com/sentrycam/sentrycam/internal/logging"
	"github.com/sentrycam/sentrycam/internal/motion"
	"github.com/sentrycam/sentrycam/internal/pipeline"
	"github.com/sentrycam/sentrycam/internal/recording"
	"github.com/sentrycam/sentrycam/internal/store"
	"github.com/sentrycam/sentrycam/internal/tamper"
	"github.com/sentrycam/sentrycam/internal/zones"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := findConfigFile()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logBuffer := setupLogging(cfg.System.Logging)
	slog.Info("Starting surveillance pipeline",
		"version", version,
		"config", configPath,
		"data_dir", cfg.System.DataDir)

	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.Open(database.DefaultConfig(cfg.System.DataDir))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := database.NewMigrator(db).Run(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	eventStore := store.NewSQLiteStore(db)

	// Event bus
	bus, err := core.NewEventBus(core.EventBusConfig{
		Host:            cfg.Bus.Host,
		Port:            cfg.Bus.Port,
		StoreDir:        cfg.Bus.StoreDir,
		EnableJetStream: cfg.Bus.EnableJetStream,
	})
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer bus.Stop()

	// Alert actuator: GPIO when a pin is configured, simulated otherwise.
	var actuator alerts.Actuator
	if cfg.Alerts.GPIOPin > 0 {
		gpio, err := alerts.NewGPIOActuator(cfg.Alerts.GPIOPin, "")
		if err != nil {
			slog.Warn("GPIO unavailable, falling back to simulated actuator", "error", err)
			actuator = alerts.NewSimulatedActuator()
		} else {
			actuator = gpio
		}
	} else {
		actuator = alerts.NewSimulatedActuator()
	}
	defer actuator.Close()

	coordinator := alerts.NewCoordinator(alerts.Config{
		DefaultRule: toAlertRule(cfg.Alerts.DefaultRule),
		ZoneRules:   toZoneRules(cfg.Alerts.ZoneRules),
		HistorySize: cfg.Alerts.HistorySize,
	}, actuator)

	// Zones
	zoneIdx, err := buildZones(cfg.Zones)
	if err != nil {
		return err
	}

	// Camera source
	streamCfg := camera.StreamConfig{
		Address:        cfg.Camera.Address,
		ConnectTimeout: seconds(cfg.Camera.ConnectTimeoutSec),
		ReadTimeout:    seconds(cfg.Camera.ReadTimeoutSec),
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		Channels:       cfg.Camera.Channels,
	}
	source := camera.NewSource(func() (camera.Reader, error) {
		return camera.DialStream(streamCfg)
	}, camera.Config{
		MaxFailures:      cfg.Camera.MaxFailures,
		ReconnectBackoff: seconds(cfg.Camera.ReconnectBackoff),
	})

	// Motion gate
	detector := motion.NewDetector(motion.Config{
		PixelThreshold: uint8(cfg.Motion.PixelThreshold),
		MinArea:        cfg.Motion.MinArea,
		BlurRadius:     cfg.Motion.BlurRadius,
		LearningRate:   cfg.Motion.LearningRate,
	})
	filter := motion.NewSmartFilter(cfg.Motion.MinMotionFrames, seconds(cfg.Motion.CooldownSeconds))

	// Inference backend: external server, or the embedded stub when
	// configured for development setups.
	detectAddr := cfg.Detection.Address
	if cfg.Detection.Embedded {
		embedded := detect.NewEmbeddedServer(detect.EmbeddedServerConfig{})
		if err := embedded.Start(ctx); err != nil {
			return fmt.Errorf("failed to start embedded detector: %w", err)
		}
		defer embedded.Stop(context.Background())
		detectAddr = embedded.Address()
	}
	client := detect.NewClient(detect.ClientConfig{
		Address:       detectAddr,
		Timeout:       seconds(cfg.Detection.TimeoutSeconds),
		MinConfidence: cfg.Detection.MinConfidence,
		JPEGQuality:   cfg.Detection.JPEGQuality,
	})

	// Recording
	recorder, err := recording.NewRecorder(recording.Config{
		OutputDir:         cfg.Recording.OutputDir,
		FPS:               cfg.Camera.FPS,
		PreBufferSeconds:  cfg.Recording.PreBufferSeconds,
		PostBufferSeconds: cfg.Recording.PostBufferSeconds,
		MaxDuration:       time.Duration(cfg.Recording.MaxDurationSeconds) * time.Second,
		JPEGQuality:       cfg.Recording.JPEGQuality,
	})
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	governor := recording.NewStorageGovernor(cfg.Recording.OutputDir, cfg.Storage.MaxStorageMB*1024*1024)

	// Optional stages
	var tamperMon *tamper.Monitor
	if cfg.Tamper.Enabled {
		tamperMon = tamper.NewMonitor(tamper.Config{
			BrightnessThreshold: cfg.Tamper.BrightnessThreshold,
			MovementThreshold:   cfg.Tamper.MovementThreshold,
			CheckInterval:       seconds(cfg.Tamper.CheckIntervalSeconds),
			HistorySize:         cfg.Tamper.HistorySize,
		})
	}
	var model *behavior.Model
	if cfg.Behavior.Enabled {
		model = behavior.NewModel(behavior.Config{
			LearningPeriodDays: cfg.Behavior.LearningPeriodDays,
			MinSamples:         cfg.Behavior.MinSamples,
			AnomalyThreshold:   cfg.Behavior.AnomalyThreshold,
			BucketMinutes:      cfg.Behavior.BucketMinutes,
			StatePath:          cfg.Behavior.StatePath,
		})
	}

	// Pipeline
	p, err := pipeline.New(pipeline.Config{
		FrameSkip:         cfg.Detection.FrameSkip,
		MinConfidence:     cfg.Detection.MinConfidence,
		CalibrationFrames: cfg.Motion.CalibrationFrames,
		CleanupInterval:   time.Duration(cfg.Storage.CleanupIntervalSeconds) * time.Second,
	}, pipeline.Deps{
		Source:   source,
		Motion:   detector,
		Filter:   filter,
		Zones:    zoneIdx,
		Alerts:   coordinator,
		Recorder: recorder,
		Governor: governor,
		Detector: client,
		Tamper:   tamperMon,
		Behavior: model,
		Bus:      bus,
		Store:    eventStore,
	})
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	// Zone toggles apply live; everything else needs a restart.
	cfg.OnChange(func(c *config.Config) {
		for _, z := range c.Zones.Zones {
			if err := zoneIdx.SetEnabled(z.Name, z.Enabled); err != nil {
				slog.Warn("Config change needs restart to apply", "zone", z.Name)
			}
		}
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watching disabled", "error", err)
	}

	// HTTP API
	server := api.NewServer(api.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		CORSOrigins: cfg.API.CORSOrigins,
	}, api.Deps{
		Pipeline: p,
		Zones:    zoneIdx,
		Alerts:   coordinator,
		Recorder: recorder,
		Governor: governor,
		Tamper:   tamperMon,
		Behavior: model,
		Store:    eventStore,
		DB:       db,
		Bus:      bus,
		Logs:     logBuffer,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	if err := eventStore.LogSystemEvent(ctx, "startup", "info", "pipeline started", map[string]any{
		"version": version,
	}); err != nil {
		slog.Warn("Failed to log startup event", "error", err)
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}

	return nil
}

// setupLogging configures the process-wide slog default and returns the
// ring buffer that captures recent entries for the API.
func setupLogging(cfg config.LoggingConfig) *logging.RingBuffer {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	buffer := logging.NewRingBuffer(1000)
	slog.SetDefault(slog.New(logging.NewCaptureHandler(buffer, handler)))
	return buffer
}

// findConfigFile looks for the config file in the usual locations.
func findConfigFile() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	locations := []string{
		"/data/config.yaml",
		"./config.yaml",
		filepath.Join("/etc/sentrycam", "config.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return locations[0]
}

func buildZones(cfg config.ZonesConfig) (*zones.Index, error) {
	built := make([]*zones.Zone, 0, len(cfg.Zones))
	for _, zc := range cfg.Zones {
		points := make([]zones.Point, 0, len(zc.Points))
		for _, p := range zc.Points {
			points = append(points, zones.Point{X: p[0], Y: p[1]})
		}
		z, err := zones.NewZone(zc.Name, points, zc.Color, zc.Enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid zone config: %w", err)
		}
		built = append(built, z)
	}
	return zones.NewIndex(built, cfg.OverlapThreshold)
}

func toAlertRule(rc config.AlertRuleConfig) alerts.Rule {
	return alerts.Rule{
		Level:    alerts.Level(rc.Level),
		Duration: seconds(rc.DurationSeconds),
		Cooldown: seconds(rc.CooldownSeconds),
	}
}

func toZoneRules(rules map[string]config.AlertRuleConfig) map[string]alerts.Rule {
	if len(rules) == 0 {
		return nil
	}
	out := make(map[string]alerts.Rule, len(rules))
	for zone, rc := range rules {
		out[zone] = toAlertRule(rc)
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
