// Package config holds the runtime knobs for one evaluation run.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures everything the evaluation needs: input locations,
// split selection, and pipeline sizing. Lifetime is one run.
type Config struct {
	ManifestPath string `yaml:"manifest_path"`
	DataRoot     string `yaml:"data_root"`
	ModelPath    string `yaml:"model_path"`
	MetadataPath string `yaml:"metadata_path"`
	OutputDir    string `yaml:"output_dir"`

	// Validation split as a half-open entry index range.
	SplitStart int `yaml:"split_start"`
	SplitEnd   int `yaml:"split_end"`

	BatchSize  int `yaml:"batch_size"`
	NumWorkers int `yaml:"num_workers"`

	// Spatial size volumes are resized to before inference.
	ResizeDepth  int `yaml:"resize_depth"`
	ResizeHeight int `yaml:"resize_height"`
	ResizeWidth  int `yaml:"resize_width"`
}

// Default matches the reference IXI gender-classification run.
func Default() *Config {
	return &Config{
		ManifestPath: "ixi_datalist.json",
		DataRoot:     "workspace/data/medical/ixi/IXI-T1",
		ModelPath:    "models/classifier3d.onnx",
		MetadataPath: "models/classifier3d_metadata.json",
		OutputDir:    "output",
		SplitStart:   21,
		SplitEnd:     30,
		BatchSize:    2,
		NumWorkers:   4,
		ResizeDepth:  96,
		ResizeHeight: 96,
		ResizeWidth:  96,
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	ManifestPath string
	DataRoot     string
	ModelPath    string
	MetadataPath string
	OutputDir    string
	BatchSize    int
	NumWorkers   int
}

// Load reads a Config from YAML, starting from defaults so partial
// files stay usable.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ManifestPath != "" {
		c.ManifestPath = o.ManifestPath
	}
	if o.DataRoot != "" {
		c.DataRoot = o.DataRoot
	}
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.MetadataPath != "" {
		c.MetadataPath = o.MetadataPath
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
}

// Validate verifies the config is runnable. An empty split range is
// valid here; the driver reports the no-samples condition itself.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ManifestPath == "" {
		return errors.New("manifest_path must be set")
	}
	if c.ModelPath == "" {
		return errors.New("model_path must be set")
	}
	if c.MetadataPath == "" {
		return errors.New("metadata_path must be set")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must be set")
	}
	if c.SplitStart < 0 || c.SplitEnd < c.SplitStart {
		return fmt.Errorf("invalid split range [%d, %d)", c.SplitStart, c.SplitEnd)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.ResizeDepth <= 0 || c.ResizeHeight <= 0 || c.ResizeWidth <= 0 {
		return fmt.Errorf("resize dimensions must be > 0 (got %dx%dx%d)", c.ResizeDepth, c.ResizeHeight, c.ResizeWidth)
	}
	return nil
}
