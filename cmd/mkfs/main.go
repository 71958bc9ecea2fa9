// Command mkfs builds a FAT32 volume image from a directory on the host.
//
//	mkfs [options] SOURCE_DIR OUTPUT_FILE
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ringos/ringfs/drivers/fat32/mkfs"
	"github.com/ringos/ringfs/utilities/compression"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:      "mkfs",
		Usage:     "Build a FAT32 volume image from a host directory",
		ArgsUsage: "SOURCE_DIR OUTPUT_FILE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "size-mb",
				Usage:   "size of the image in MiB",
				Value:   mkfs.DefaultSizeMB,
				EnvVars: []string{"RINGFS_SIZE_MB"},
			},
			&cli.UintFlag{
				Name:    "sectors-per-cluster",
				Usage:   "cluster size in sectors (power of 2, at most 128)",
				Value:   1,
				EnvVars: []string{"RINGFS_SECTORS_PER_CLUSTER"},
			},
			&cli.StringFlag{
				Name:    "label",
				Usage:   "volume label, at most 11 characters",
				EnvVars: []string{"RINGFS_LABEL"},
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML file with default settings",
			},
			&cli.BoolFlag{
				Name:  "compress",
				Usage: "gzip the output image",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every file added",
			},
		},
		Action: buildImage,
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("mkfs: %s", err)
	}
}

func buildImage(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected 2 arguments, got %d\nUsage: %s %s",
			ctx.NArg(), ctx.App.Name, ctx.App.ArgsUsage)
	}
	sourceDir := ctx.Args().Get(0)
	outputPath := ctx.Args().Get(1)

	log.SetOutput(os.Stderr)
	if ctx.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	config, err := readConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	err = config.mergeFlags(ctx)
	if err != nil {
		return err
	}

	builder, err := mkfs.New(config.options(log.StandardLogger())...)
	if err != nil {
		return err
	}
	err = builder.AddTree(afero.NewOsFs(), sourceDir)
	if err != nil {
		return err
	}

	image, err := builder.Bytes()
	if err != nil {
		return err
	}

	output, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer output.Close()

	var written int64
	if config.Compress {
		written, err = compression.CompressImage(bytes.NewReader(image), output)
	} else {
		written, err = builder.WriteTo(output)
	}
	if err != nil {
		os.Remove(outputPath)
		return err
	}

	log.WithFields(log.Fields{
		"output":        outputPath,
		"bytes":         written,
		"free_clusters": builder.FreeClusters(),
	}).Info("image written")
	return output.Close()
}
