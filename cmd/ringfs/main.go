// Command ringfs inspects and modifies FAT32 volume images.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/ringos/ringfs/utilities/compression"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "ringfs",
		Usage: "Inspect and modify FAT32 volume images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log file system activity to stderr",
			},
		},
		Before: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)
			if ctx.Bool("verbose") {
				log.SetLevel(log.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "IMAGE [DIRECTORY]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "csv", Usage: "print the listing as CSV"},
				},
				Action: listDirectory,
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents",
				ArgsUsage: "IMAGE FILE",
				Action:    catFile,
			},
			{
				Name:      "put",
				Usage:     "Copy a host file into the image, replacing any file with the same name",
				ArgsUsage: "IMAGE HOST_FILE FILE",
				Action:    putFile,
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				ArgsUsage: "IMAGE DIRECTORY",
				Action:    makeDirectory,
			},
			{
				Name:      "rm",
				Usage:     "Delete a file",
				ArgsUsage: "IMAGE FILE",
				Action:    removeFile,
			},
			{
				Name:      "info",
				Usage:     "Show the volume's geometry and usage",
				ArgsUsage: "IMAGE",
				Action:    showInfo,
			},
			{
				Name:      "unpack",
				Usage:     "Decompress a gzipped image",
				ArgsUsage: "INPUT OUTPUT",
				Action:    unpackImage,
			},
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("ringfs: %s", err)
	}
}

func checkArgs(ctx *cli.Context, min int, max int) error {
	if ctx.NArg() < min || ctx.NArg() > max {
		return fmt.Errorf("wrong number of arguments\nUsage: %s %s %s",
			ctx.App.Name, ctx.Command.Name, ctx.Command.ArgsUsage)
	}
	return nil
}

// listingRow is one line of `ls --csv` output.
type listingRow struct {
	Name      string `csv:"name"`
	Size      uint32 `csv:"size"`
	Directory bool   `csv:"directory"`
	Modified  string `csv:"modified"`
}

func listDirectory(ctx *cli.Context) error {
	if err := checkArgs(ctx, 1, 2); err != nil {
		return err
	}

	image, err := openImage(ctx.Args().Get(0), false)
	if err != nil {
		return err
	}
	defer image.Close()

	session, err := image.directorySession(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	entries, err := session.Entries()
	if err != nil {
		return err
	}

	out := ctx.App.Writer
	if ctx.Bool("csv") {
		rows := make([]listingRow, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, listingRow{
				Name:      entry.Name(),
				Size:      entry.FileSize,
				Directory: entry.IsDir(),
				Modified:  entry.ModTime().Format(time.RFC3339),
			})
		}
		return gocsv.Marshal(rows, out)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(out, "%-12s %10s\n", entry.Name(), "<DIR>")
		} else {
			fmt.Fprintf(out, "%-12s %10d\n", entry.Name(), entry.FileSize)
		}
	}
	return nil
}

func catFile(ctx *cli.Context) error {
	if err := checkArgs(ctx, 2, 2); err != nil {
		return err
	}

	image, err := openImage(ctx.Args().Get(0), false)
	if err != nil {
		return err
	}
	defer image.Close()

	session, name, err := image.sessionAt(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	data, err := session.ReadAll(name)
	if err != nil {
		return err
	}
	_, err = ctx.App.Writer.Write(data)
	return err
}

// modifyImage opens an image for writing, runs `fn` on the session for the
// parent of `imagePath`, and writes the changes back.
func modifyImage(
	imageFile string,
	imagePath string,
	fn func(session *fat32.Session, name string) error,
) error {
	image, err := openImage(imageFile, true)
	if err != nil {
		return err
	}

	session, name, err := image.sessionAt(imagePath)
	if err == nil {
		if name == "" {
			err = ringfs.ErrInvalidArgument.WithMessage("path names the root directory")
		} else {
			err = fn(session, name)
		}
	}

	closeErr := image.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func putFile(ctx *cli.Context) error {
	if err := checkArgs(ctx, 3, 3); err != nil {
		return err
	}

	data, err := os.ReadFile(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	return modifyImage(ctx.Args().Get(0), ctx.Args().Get(2), func(session *fat32.Session, name string) error {
		return session.WriteFile(name, data)
	})
}

func makeDirectory(ctx *cli.Context) error {
	if err := checkArgs(ctx, 2, 2); err != nil {
		return err
	}
	return modifyImage(ctx.Args().Get(0), ctx.Args().Get(1), func(session *fat32.Session, name string) error {
		return session.CreateDirectory(name)
	})
}

func removeFile(ctx *cli.Context) error {
	if err := checkArgs(ctx, 2, 2); err != nil {
		return err
	}
	return modifyImage(ctx.Args().Get(0), ctx.Args().Get(1), func(session *fat32.Session, name string) error {
		return session.DeleteFile(name)
	})
}

func showInfo(ctx *cli.Context) error {
	if err := checkArgs(ctx, 1, 1); err != nil {
		return err
	}

	image, err := openImage(ctx.Args().Get(0), false)
	if err != nil {
		return err
	}
	defer image.Close()

	stats, err := image.volume.Stats()
	if err != nil {
		return err
	}

	out := ctx.App.Writer
	fmt.Fprintf(out, "Label:             %s\n", stats.Label)
	fmt.Fprintf(out, "Volume ID:         %08X\n", stats.VolumeID)
	fmt.Fprintf(out, "Total sectors:     %d\n", stats.TotalSectors)
	fmt.Fprintf(out, "Bytes per cluster: %d\n", stats.BytesPerCluster)
	fmt.Fprintf(out, "Total clusters:    %d\n", stats.TotalClusters)
	fmt.Fprintf(out, "Free clusters:     %d\n", stats.FreeClusters)

	info, err := image.volume.FSInfo()
	if err != nil {
		log.WithError(err).Debug("no usable FSInfo sector")
		return nil
	}
	if info.FreeCount != stats.FreeClusters {
		log.WithFields(log.Fields{
			"recorded": info.FreeCount,
			"actual":   stats.FreeClusters,
		}).Warn("FSInfo free cluster count is stale")
	}
	return nil
}

func unpackImage(ctx *cli.Context) error {
	if err := checkArgs(ctx, 2, 2); err != nil {
		return err
	}

	input, err := os.Open(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.Create(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	written, err := compression.DecompressImage(input, output)
	if err != nil {
		output.Close()
		return err
	}
	log.WithField("bytes", written).Info("image unpacked")
	return output.Close()
}
