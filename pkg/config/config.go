// Package config holds the bv2src settings: database location, per-subject
// path templates, extraction and discretization parameters, and output.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"bv2src/pkg/logging"
	"bv2src/pkg/parcel"
	"bv2src/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Database locates the anatomical databases
	Database struct {
		// Root is the folder holding db_mne, db_brainvisa and db_freesurfer
		Root string `yaml:"root"`

		// Project is the project folder inside each database
		Project string `yaml:"project"`
	} `yaml:"database"`

	// Dirs holds the per-subject directory templates
	Dirs DirTemplates `yaml:"dirs"`

	// Input file templates. {H} expands to L or R and {hemi} to lh or rh.
	Inputs struct {
		// Surface is the white mesh of one hemisphere
		Surface string `yaml:"surface"`

		// Texture is the per-vertex parcel texture of one hemisphere
		Texture string `yaml:"texture"`

		// Atlas is the parcel lookup table (xls, xlsx or text)
		Atlas string `yaml:"atlas"`

		// Reference lists the transforms to compose, one per line
		Reference string `yaml:"reference"`

		// TransformRoot is where transform names are looked up when they
		// are not found relative to the working directory
		TransformRoot string `yaml:"transformRoot"`

		// TransOut is where the composed transform is written
		TransOut string `yaml:"transOut"`

		// Volume is the labeled subcortical volume (NIfTI)
		Volume string `yaml:"volume"`
	} `yaml:"inputs"`

	// Parcel extraction parameters
	Parcels struct {
		// Exclude lists the label positions (or ids) to drop
		Exclude []int `yaml:"exclude"`

		// ExcludeMode is "position" or "id"
		ExcludeMode string `yaml:"excludeMode"`

		// Rejected lists label names to drop after extraction
		Rejected []string `yaml:"rejected,omitempty"`
	} `yaml:"parcels"`

	// Volume source parameters
	Volume struct {
		// Spacing is the distance between volume sources in mm
		Spacing float64 `yaml:"spacing"`

		// Structures lists the subcortical structures to model, in order
		Structures []volume.Structure `yaml:"structures"`
	} `yaml:"volume"`

	// BEM computation, run only when the model or solution is missing
	BEM struct {
		// Command is the external program computing the BEM
		Command string `yaml:"command,omitempty"`

		// Args are its arguments; {subject} is replaced by the subject id
		Args []string `yaml:"args,omitempty"`
	} `yaml:"bem"`

	// Output parameters
	Output struct {
		// Persist saves source spaces and labels after each stage
		Persist bool `yaml:"persist"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// StoreFile is the SQLite file receiving source spaces and labels
		StoreFile string `yaml:"storeFile"`
	} `yaml:"output"`

	// Logging configures the logger
	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Database.Root = "."
	cfg.Database.Project = "project"

	cfg.Dirs = DefaultDirTemplates()

	// Inputs follow the BrainVISA tree
	analysis := "{db_bv}/{project}/{subject}/t1mri/default_acquisition/default_analysis/segmentation/mesh/surface_analysis"
	cfg.Inputs.Surface = analysis + "/{subject}_{H}white_remeshed_hiphop.gii"
	cfg.Inputs.Texture = "{db_bv}/hiphop138-multiscale/Decimated/4K/hiphop138_{H}white_dec_4K_parcels_marsAtlas.gii"
	cfg.Inputs.Atlas = "{db_mne}/{project}/marsatlas/MarsAtlas_BV_2015.xls"
	cfg.Inputs.Reference = "{db_mne}/{project}/referential/referential.txt"
	cfg.Inputs.TransformRoot = "{database}"
	cfg.Inputs.TransOut = "{db_mne}/{project}/{subject}/ref/{subject}-trans.trm"
	cfg.Inputs.Volume = "{db_mne}/{project}/{subject}/mri/aseg.nii.gz"

	cfg.Parcels.Exclude = append([]int(nil), parcel.DefaultExclude...)
	cfg.Parcels.ExcludeMode = parcel.ExcludeByPosition.String()

	cfg.Volume.Spacing = volume.DefaultSpacing
	cfg.Volume.Structures = append([]volume.Structure(nil), volume.DefaultStructures...)

	cfg.Output.Persist = false
	cfg.Output.Verbose = true
	cfg.Output.StoreFile = "{db_mne}/{project}/sources.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "auto"

	return cfg
}

// Validate checks the values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Database.Root == "" {
		return fmt.Errorf("database.root must be set")
	}
	if c.Volume.Spacing <= 0 {
		return fmt.Errorf("volume.spacing must be positive, got %g", c.Volume.Spacing)
	}
	if _, err := parcel.ParseExcludeMode(c.Parcels.ExcludeMode); err != nil {
		return fmt.Errorf("parcels.excludeMode: %w", err)
	}
	if c.Inputs.Surface == "" || c.Inputs.Texture == "" || c.Inputs.Reference == "" {
		return fmt.Errorf("inputs.surface, inputs.texture and inputs.reference must be set")
	}
	return nil
}

// LoadConfig reads the YAML file at configPath over the defaults. A missing
// file yields the defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the parent directory
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

// CreateDefaultConfigFile writes the default configuration to configPath
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
