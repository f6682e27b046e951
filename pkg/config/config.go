// Package config provides configuration loading and management for ddafa.
// It handles loading configuration from YAML files and provides default
// values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Detector geometry parameters, per spec.md §3/§6.
	Detector struct {
		// NRow, NCol are the detector pixel counts (horizontal, vertical).
		NRow int `yaml:"nRow"`
		NCol int `yaml:"nCol"`

		// LPxRow, LPxCol are the detector pixel pitch in mm.
		LPxRow float64 `yaml:"lPxRow"`
		LPxCol float64 `yaml:"lPxCol"`

		// DeltaS, DeltaT are the principal-point offset in pixels.
		DeltaS float64 `yaml:"deltaS"`
		DeltaT float64 `yaml:"deltaT"`

		// DSO, DOD are the source-to-object and object-to-detector
		// distances in mm.
		DSO float64 `yaml:"dso"`
		DOD float64 `yaml:"dod"`

		// NProj is the number of projections per rotation.
		NProj int `yaml:"nProj"`

		// RotAngle is the default angular step in degrees, used when no
		// angle file is supplied.
		RotAngle float64 `yaml:"rotAngle"`
	} `yaml:"detector"`

	// Region of interest, optionally shrinking the reconstructed volume.
	ROI struct {
		Enabled bool `yaml:"enabled"`
		X1      int  `yaml:"x1"`
		X2      int  `yaml:"x2"`
		Y1      int  `yaml:"y1"`
		Y2      int  `yaml:"y2"`
		Z1      int  `yaml:"z1"`
		Z2      int  `yaml:"z2"`
	} `yaml:"roi"`

	// Device parameters: the logical device pool the scheduler partitions
	// the volume across.
	Device struct {
		// Count is the number of logical devices to multiplex the pipeline
		// across, per spec.md §5.
		Count int `yaml:"count"`

		// MemoryBytes is the memory budget of each logical device, used by
		// the scheduler's halving loop.
		MemoryBytes int64 `yaml:"memoryBytes"`

		// NumCores is stored and round-tripped with the config file; the
		// engine does not read it, so it does not limit parallelism.
		NumCores int `yaml:"numCores"`
	} `yaml:"device"`

	// Pipeline parameters.
	Pipeline struct {
		// QueueCapacity is the bounded blocking queue capacity between
		// stages; must be at least 2x the number of concurrent workers on
		// either side, per spec.md §4.5.
		QueueCapacity int `yaml:"queueCapacity"`

		// AngleFile is the path to the angle file; empty means fall back
		// to a uniform RotAngle step.
		AngleFile string `yaml:"angleFile"`
	} `yaml:"pipeline"`

	// Output parameters.
	Output struct {
		// Verbose is stored and round-tripped with the config file; the
		// CLI's verbosity is set by its -verbose flag, not by this field.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detector.NRow = 1024
	cfg.Detector.NCol = 1024
	cfg.Detector.LPxRow = 0.4
	cfg.Detector.LPxCol = 0.4
	cfg.Detector.DeltaS = 0
	cfg.Detector.DeltaT = 0
	cfg.Detector.DSO = 600
	cfg.Detector.DOD = 400
	cfg.Detector.NProj = 720
	cfg.Detector.RotAngle = 0.5

	cfg.Device.Count = 1
	cfg.Device.MemoryBytes = 4 << 30 // 4 GiB
	cfg.Device.NumCores = runtime.NumCPU()

	cfg.Pipeline.QueueCapacity = 8
	cfg.Pipeline.AngleFile = ""

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
