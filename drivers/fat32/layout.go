package fat32

import (
	"fmt"

	"github.com/ringos/ringfs"
)

// entriesPerFATSector is the number of 4-byte FAT entries in one sector.
const entriesPerFATSector = ringfs.SectorSize / 4

// Layout holds the geometry derived from a boot sector. It is computed once at
// mount and never changes afterwards.
type Layout struct {
	BootSector
	// FATStart is the first sector of the first FAT copy.
	FATStart uint32
	// DataStart is the first sector of cluster 2.
	DataStart uint32
	// TotalClusters is the number of data clusters on the volume.
	TotalClusters uint32
	// MaxCluster is the highest cluster number that is both inside the data
	// region and addressable by the FAT.
	MaxCluster ClusterID
	// BytesPerCluster is the size of one cluster, in bytes.
	BytesPerCluster uint32
}

// NewLayout validates a boot sector and derives the volume's regions.
func NewLayout(bs BootSector) (*Layout, error) {
	if bs.BytesPerSector != ringfs.SectorSize {
		return nil, ringfs.ErrBadSectorSize.WithMessage(
			fmt.Sprintf("boot sector says %d bytes per sector", bs.BytesPerSector))
	}

	spc := bs.SectorsPerCluster
	if spc == 0 || spc > 128 || spc&(spc-1) != 0 {
		return nil, ringfs.ErrBadVolume.WithMessage(
			fmt.Sprintf("sectors per cluster must be a power of 2 in [1, 128], got %d", spc))
	}
	if bs.ReservedSectors == 0 {
		return nil, ringfs.ErrBadVolume.WithMessage("reserved sector count is 0")
	}
	if bs.NumFATs == 0 {
		return nil, ringfs.ErrBadVolume.WithMessage("volume has no FATs")
	}
	if bs.FATSize32 == 0 {
		return nil, ringfs.ErrBadVolume.WithMessage("FAT size is 0; not a FAT32 volume")
	}

	layout := &Layout{
		BootSector:      bs,
		FATStart:        uint32(bs.ReservedSectors),
		BytesPerCluster: uint32(spc) * ringfs.SectorSize,
	}

	dataStart := uint64(layout.FATStart) + uint64(bs.NumFATs)*uint64(bs.FATSize32)
	totalSectors := uint64(bs.TotalSectors())
	if dataStart >= totalSectors {
		return nil, ringfs.ErrBadVolume.WithMessage(
			fmt.Sprintf(
				"data region starts at sector %d but the volume only has %d sectors",
				dataStart,
				totalSectors,
			),
		)
	}
	layout.DataStart = uint32(dataStart)
	layout.TotalClusters = uint32((totalSectors - dataStart) / uint64(spc))
	if layout.TotalClusters == 0 {
		return nil, ringfs.ErrBadVolume.WithMessage("volume has no data clusters")
	}

	// The FAT may be too small to describe every cluster in the data region, so
	// the usable range ends at whichever limit comes first.
	maxCluster := uint64(layout.TotalClusters) + 1
	fatEntries := uint64(bs.FATSize32) * entriesPerFATSector
	if fatEntries-1 < maxCluster {
		maxCluster = fatEntries - 1
	}
	if maxCluster > uint64(DeviceErrorCluster-1) {
		maxCluster = uint64(DeviceErrorCluster - 1)
	}
	if maxCluster < uint64(FirstDataCluster) {
		return nil, ringfs.ErrBadVolume.WithMessage("FAT is too small to hold any data clusters")
	}
	layout.MaxCluster = ClusterID(maxCluster)

	root := ClusterID(bs.RootCluster)
	if !layout.IsDataCluster(root) {
		return nil, ringfs.ErrBadVolume.WithMessage(
			fmt.Sprintf("root cluster %d not in range [2, %d]", root, layout.MaxCluster))
	}
	return layout, nil
}

// Root returns the first cluster of the root directory.
func (layout *Layout) Root() ClusterID {
	return ClusterID(layout.BootSector.RootCluster)
}

// IsDataCluster reports whether `cluster` can hold data on this volume.
func (layout *Layout) IsDataCluster(cluster ClusterID) bool {
	return cluster >= FirstDataCluster && cluster <= layout.MaxCluster
}

// ClusterToLBA returns the first sector of a data cluster.
func (layout *Layout) ClusterToLBA(cluster ClusterID) uint32 {
	return layout.DataStart + uint32(cluster-FirstDataCluster)*uint32(layout.SectorsPerCluster)
}

