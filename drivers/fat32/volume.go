package fat32

import (
	"fmt"
	"time"

	"github.com/ringos/ringfs"
	"github.com/sirupsen/logrus"
)

// Volume is a mounted FAT32 volume. It owns no navigation state; every file
// operation takes the directory to act on explicitly. Use NewSession to track
// a current directory.
//
// A Volume must not be used by more than one goroutine at a time.
type Volume struct {
	device ringfs.BlockDevice
	layout *Layout
	table  *Table
	log    logrus.FieldLogger
	clock  func() time.Time
}

// Mount reads the boot sector from `device`, validates it, and returns the
// mounted volume.
func Mount(device ringfs.BlockDevice, opts ...ringfs.Option) (*Volume, error) {
	options := ringfs.NewOptions(opts...)

	sector := make([]byte, ringfs.SectorSize)
	err := device.ReadSectors(0, 1, sector)
	if err != nil {
		return nil, deviceError(err)
	}

	bs, err := ParseBootSector(sector)
	if err != nil {
		return nil, err
	}

	layout, err := NewLayout(bs)
	if err != nil {
		return nil, err
	}
	if sized, ok := device.(ringfs.SizedBlockDevice); ok && sized.TotalSectors() < layout.TotalSectors() {
		return nil, ringfs.ErrBadVolume.WithMessage(
			fmt.Sprintf(
				"boot sector claims %d sectors but the device only has %d",
				layout.TotalSectors(),
				sized.TotalSectors(),
			),
		)
	}

	options.Logger.WithFields(logrus.Fields{
		"fat_start":           layout.FATStart,
		"data_start":          layout.DataStart,
		"fats":                layout.NumFATs,
		"sectors_per_cluster": layout.SectorsPerCluster,
		"total_clusters":      layout.TotalClusters,
		"root_cluster":        layout.Root(),
	}).Debug("mounted volume")

	return &Volume{
		device: device,
		layout: layout,
		table:  NewTable(device, layout, options.Logger),
		log:    options.Logger,
		clock:  options.Clock,
	}, nil
}

// Flush writes back anything the device is buffering. Devices that don't
// buffer writes need no flushing.
func (v *Volume) Flush() error {
	if flusher, ok := v.device.(ringfs.Flusher); ok {
		return flusher.Flush()
	}
	return nil
}

// Layout returns the geometry of the volume.
func (v *Volume) Layout() *Layout {
	return v.layout
}

// Table returns the volume's file allocation table.
func (v *Volume) Table() *Table {
	return v.table
}

// Root returns the first cluster of the root directory.
func (v *Volume) Root() ClusterID {
	return v.layout.Root()
}

// Stats summarizes the geometry and usage of a volume.
type Stats struct {
	Label           string
	VolumeID        uint32
	TotalSectors    uint32
	BytesPerCluster uint32
	TotalClusters   uint32
	FreeClusters    uint32
}

// Stats counts the free clusters on the volume and returns them along with its
// geometry.
func (v *Volume) Stats() (Stats, error) {
	free, err := v.table.CountFree()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Label:           v.layout.Label(),
		VolumeID:        v.layout.VolumeID,
		TotalSectors:    v.layout.TotalSectors(),
		BytesPerCluster: v.layout.BytesPerCluster,
		TotalClusters:   uint32(v.layout.MaxCluster-FirstDataCluster) + 1,
		FreeClusters:    free,
	}, nil
}
