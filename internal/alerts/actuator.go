package alerts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Actuator drives an external alert signal (buzzer, strobe, relay). The
// coordinator does not care whether the implementation blocks or fires and
// forgets.
type Actuator interface {
	Activate(level Level, duration time.Duration) error
	Close() error
}

// SimulatedActuator logs activations instead of touching hardware. Used
// when no GPIO pin is configured.
type SimulatedActuator struct {
	mu          sync.Mutex
	logger      *slog.Logger
	activations int64
}

// NewSimulatedActuator creates a logging-only actuator.
func NewSimulatedActuator() *SimulatedActuator {
	return &SimulatedActuator{
		logger: slog.Default().With("component", "actuator", "mode", "simulated"),
	}
}

// Activate logs the activation and returns immediately.
func (a *SimulatedActuator) Activate(level Level, duration time.Duration) error {
	a.mu.Lock()
	a.activations++
	n := a.activations
	a.mu.Unlock()

	a.logger.Info("Actuator activated",
		"level", string(level),
		"duration", duration,
		"total", n)
	return nil
}

// Activations returns how many times the actuator fired.
func (a *SimulatedActuator) Activations() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activations
}

// Close is a no-op.
func (a *SimulatedActuator) Close() error { return nil }

// GPIOActuator drives a pin through the sysfs GPIO interface. Activation
// sets the pin high and schedules it low after the hold duration, so
// Activate never blocks the pipeline.
type GPIOActuator struct {
	mu      sync.Mutex
	pin     int
	sysRoot string
	logger  *slog.Logger
	timer   *time.Timer
}

// NewGPIOActuator exports the pin and configures it as an output. sysRoot
// is the sysfs GPIO class directory, normally /sys/class/gpio.
func NewGPIOActuator(pin int, sysRoot string) (*GPIOActuator, error) {
	if sysRoot == "" {
		sysRoot = "/sys/class/gpio"
	}
	a := &GPIOActuator{
		pin:     pin,
		sysRoot: sysRoot,
		logger:  slog.Default().With("component", "actuator", "mode", "gpio", "pin", pin),
	}

	pinDir := filepath.Join(sysRoot, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(sysRoot, "export"), []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
			return nil, fmt.Errorf("failed to export gpio pin %d: %w", pin, err)
		}
	}
	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to set gpio pin %d direction: %w", pin, err)
	}
	if err := a.write("0"); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *GPIOActuator) write(value string) error {
	path := filepath.Join(a.sysRoot, fmt.Sprintf("gpio%d", a.pin), "value")
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("failed to write gpio value: %w", err)
	}
	return nil
}

// Activate raises the pin and schedules the release. A second activation
// while the pin is high extends the hold.
func (a *GPIOActuator) Activate(level Level, duration time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.write("1"); err != nil {
		return err
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(duration, func() {
		if err := a.write("0"); err != nil {
			a.logger.Error("Failed to release gpio pin", "error", err)
		}
	})

	a.logger.Info("Actuator activated", "level", string(level), "duration", duration)
	return nil
}

// Close releases the pin and unexports it.
func (a *GPIOActuator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if err := a.write("0"); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(a.sysRoot, "unexport"), []byte(fmt.Sprintf("%d", a.pin)), 0o644); err != nil {
		return fmt.Errorf("failed to unexport gpio pin %d: %w", a.pin, err)
	}
	return nil
}
