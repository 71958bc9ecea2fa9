package main

import (
	"fmt"
	"math"
	"os"

	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/fat32/mkfs"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

// Config is the layout of the optional YAML file passed with --config. Any
// value also given on the command line is overridden by the flag.
type Config struct {
	SizeMB            int    `yaml:"size-mb"`
	SectorsPerCluster uint8  `yaml:"sectors-per-cluster"`
	ReservedSectors   uint16 `yaml:"reserved-sectors"`
	FATs              uint8  `yaml:"fats"`
	Label             string `yaml:"label"`
	OEMName           string `yaml:"oem-name"`
	Compress          bool   `yaml:"compress"`
}

func readConfig(path string) (Config, error) {
	var config Config
	if path == "" {
		return config, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := yaml.UnmarshalStrict(raw, &config); err != nil {
		return config, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	return config, nil
}

// mergeFlags copies every flag the user set over the values from the config
// file. Zero means "use the default" in the config, so a flag can't be zero.
func (config *Config) mergeFlags(ctx *cli.Context) error {
	if ctx.IsSet("size-mb") {
		sizeMB := ctx.Int("size-mb")
		if sizeMB <= 0 {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("--size-mb must be positive, got %d", sizeMB))
		}
		config.SizeMB = sizeMB
	}
	if ctx.IsSet("sectors-per-cluster") {
		spc := ctx.Uint("sectors-per-cluster")
		if spc == 0 || spc > math.MaxUint8 {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("--sectors-per-cluster must be in [1, %d], got %d", math.MaxUint8, spc))
		}
		config.SectorsPerCluster = uint8(spc)
	}
	if ctx.IsSet("label") {
		config.Label = ctx.String("label")
	}
	if ctx.IsSet("compress") {
		config.Compress = ctx.Bool("compress")
	}
	return nil
}

// options translates the configuration into builder options. Zero values
// leave the builder's defaults alone.
func (config *Config) options(logger log.FieldLogger) []mkfs.Option {
	opts := []mkfs.Option{mkfs.WithLogger(logger)}
	if config.SizeMB != 0 {
		opts = append(opts, mkfs.WithSizeInMB(config.SizeMB))
	}
	if config.SectorsPerCluster != 0 {
		opts = append(opts, mkfs.WithSectorsPerCluster(config.SectorsPerCluster))
	}
	if config.ReservedSectors != 0 {
		opts = append(opts, mkfs.WithReservedSectors(config.ReservedSectors))
	}
	if config.FATs != 0 {
		opts = append(opts, mkfs.WithFATCount(config.FATs))
	}
	if config.Label != "" {
		opts = append(opts, mkfs.WithVolumeLabel(config.Label))
	}
	if config.OEMName != "" {
		opts = append(opts, mkfs.WithOEMName(config.OEMName))
	}
	return opts
}
