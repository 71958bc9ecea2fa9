package fat32

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/ringos/ringfs"
	"github.com/sirupsen/logrus"
)

type ClusterID uint32

const (
	// FreeCluster marks an unused FAT entry.
	FreeCluster ClusterID = 0
	// FirstDataCluster is the lowest cluster number that can hold data.
	// Clusters 0 and 1 are reserved.
	FirstDataCluster ClusterID = 2
	// DeviceErrorCluster is what Next returns when the FAT can't be read. It is
	// the same value FAT uses to mark bad clusters, and chain walks stop on it.
	DeviceErrorCluster ClusterID = 0x0FFFFFF7
	// EndOfChain is written to the last cluster of every chain the engine
	// creates. Any value at or above it ends a chain.
	EndOfChain ClusterID = 0x0FFFFFF8

	clusterMask  = 0x0FFFFFFF
	reservedMask = 0xF0000000
)

// IsEndOfChain reports whether the FAT value `c` terminates a chain.
func (c ClusterID) IsEndOfChain() bool {
	return c >= EndOfChain
}

// deviceError makes sure a failure reported by the block device is classified
// as ErrIOFailed.
func deviceError(err error) error {
	if errors.Is(err, ringfs.ErrIOFailed) {
		return err
	}
	return ringfs.ErrIOFailed.Wrap(err)
}

// errStopWalk can be returned by a Walk callback to end the walk early without
// reporting an error.
var errStopWalk = errors.New("stop walking chain")

// Table reads and writes the file allocation table of a mounted volume. Every
// write goes to all FAT copies.
type Table struct {
	device ringfs.BlockDevice
	layout *Layout
	log    logrus.FieldLogger
	sector []byte
}

// NewTable creates a Table for the volume described by `layout`.
func NewTable(device ringfs.BlockDevice, layout *Layout, logger logrus.FieldLogger) *Table {
	if logger == nil {
		logger = ringfs.DiscardLogger()
	}
	return &Table{
		device: device,
		layout: layout,
		log:    logger,
		sector: make([]byte, ringfs.SectorSize),
	}
}

// entryLocation returns the sector and byte offset of the FAT entry for
// `cluster` in FAT copy `copyIndex`.
func (table *Table) entryLocation(cluster ClusterID, copyIndex uint8) (uint32, int) {
	byteOffset := uint32(cluster) * 4
	lba := table.layout.FATStart +
		uint32(copyIndex)*table.layout.FATSize32 +
		byteOffset/ringfs.SectorSize
	return lba, int(byteOffset % ringfs.SectorSize)
}

func (table *Table) checkCluster(cluster ClusterID) error {
	if uint64(cluster) >= uint64(table.layout.FATSize32)*entriesPerFATSector {
		return ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cluster %d has no entry in the FAT", cluster))
	}
	return nil
}

// Next returns the FAT value stored for `cluster`: the next cluster in its
// chain, FreeCluster, or an end-of-chain marker. Only the low 28 bits are
// returned.
//
// If the FAT can't be read, Next returns DeviceErrorCluster along with an
// ErrIOFailed error, so callers that only inspect the value still stop.
func (table *Table) Next(cluster ClusterID) (ClusterID, error) {
	err := table.checkCluster(cluster)
	if err != nil {
		return DeviceErrorCluster, err
	}

	lba, offset := table.entryLocation(cluster, 0)
	err = table.device.ReadSectors(lba, 1, table.sector)
	if err != nil {
		return DeviceErrorCluster, deviceError(err)
	}
	return ClusterID(binary.LittleEndian.Uint32(table.sector[offset:]) & clusterMask), nil
}

// Set stores `value` as the FAT entry for `cluster` in every FAT copy. The
// reserved high 4 bits of each existing entry are preserved.
//
// Set is not transactional. Every copy is attempted even if an earlier one
// fails, and all failures are reported together; copies that were written
// are not rolled back.
func (table *Table) Set(cluster ClusterID, value ClusterID) error {
	err := table.checkCluster(cluster)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for i := uint8(0); i < table.layout.NumFATs; i++ {
		lba, offset := table.entryLocation(cluster, i)

		err := table.device.ReadSectors(lba, 1, table.sector)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("reading FAT copy %d: %w", i, err))
			continue
		}

		old := binary.LittleEndian.Uint32(table.sector[offset:])
		binary.LittleEndian.PutUint32(
			table.sector[offset:],
			(old&reservedMask)|(uint32(value)&clusterMask),
		)

		err = table.device.WriteSectors(lba, 1, table.sector)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("writing FAT copy %d: %w", i, err))
		}
	}

	if result != nil {
		return ringfs.ErrIOFailed.Wrap(result)
	}
	return nil
}

// AllocateOne finds the lowest-numbered free cluster, marks it as the end of a
// chain, and returns it. If the volume is full it returns ErrOutOfClusters.
//
// The scan always starts at FirstDataCluster and reads the FAT from the
// device; nothing about free clusters is cached between calls.
func (table *Table) AllocateOne() (ClusterID, error) {
	cluster := FirstDataCluster

	for cluster <= table.layout.MaxCluster {
		lba, offset := table.entryLocation(cluster, 0)
		err := table.device.ReadSectors(lba, 1, table.sector)
		if err != nil {
			return 0, deviceError(err)
		}

		// Check every remaining entry in this sector before reading the next.
		for ; offset < ringfs.SectorSize && cluster <= table.layout.MaxCluster; offset += 4 {
			value := binary.LittleEndian.Uint32(table.sector[offset:]) & clusterMask
			if value == uint32(FreeCluster) {
				err = table.Set(cluster, EndOfChain)
				if err != nil {
					return 0, err
				}
				table.log.WithField("cluster", cluster).Debug("allocated cluster")
				return cluster, nil
			}
			cluster++
		}
	}

	return 0, ringfs.ErrOutOfClusters
}

// Link makes `next` follow `prev` in a chain.
func (table *Table) Link(prev ClusterID, next ClusterID) error {
	return table.Set(prev, next)
}

// Walk calls `fn` for every cluster in the chain beginning at `start`, in
// order. A chain that visits more clusters than the volume has is reported as
// ErrChainCycle, and a link to a cluster that can't hold data as ErrBadVolume.
func (table *Table) Walk(start ClusterID, fn func(cluster ClusterID) error) error {
	current := start
	for visited := uint32(0); ; visited++ {
		if visited >= table.layout.TotalClusters {
			return ringfs.ErrChainCycle.WithMessage(fmt.Sprintf("chain starting at %d", start))
		}
		if !table.layout.IsDataCluster(current) {
			return ringfs.ErrBadVolume.WithMessage(
				fmt.Sprintf("chain starting at %d links to invalid cluster %#x", start, current))
		}

		err := fn(current)
		if errors.Is(err, errStopWalk) {
			return nil
		}
		if err != nil {
			return err
		}

		next, err := table.Next(current)
		if err != nil {
			return err
		}
		if next.IsEndOfChain() || next == DeviceErrorCluster {
			return nil
		}
		current = next
	}
}

// Chain returns every cluster in the chain beginning at `start`.
func (table *Table) Chain(start ClusterID) ([]ClusterID, error) {
	chain := []ClusterID{}
	err := table.Walk(start, func(cluster ClusterID) error {
		chain = append(chain, cluster)
		return nil
	})
	return chain, err
}

// FreeChain marks every cluster in the chain beginning at `start` as free. The
// whole chain is read before anything is freed, so a corrupt chain leaves the
// FAT untouched.
func (table *Table) FreeChain(start ClusterID) error {
	if start == FreeCluster {
		return nil
	}

	chain, err := table.Chain(start)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, cluster := range chain {
		err := table.Set(cluster, FreeCluster)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result != nil {
		return ringfs.ErrIOFailed.Wrap(result)
	}

	table.log.WithFields(logrus.Fields{
		"start":    start,
		"clusters": len(chain),
	}).Debug("freed cluster chain")
	return nil
}

// CountFree returns the number of free data clusters.
func (table *Table) CountFree() (uint32, error) {
	free := uint32(0)
	cluster := FirstDataCluster

	for cluster <= table.layout.MaxCluster {
		lba, offset := table.entryLocation(cluster, 0)
		err := table.device.ReadSectors(lba, 1, table.sector)
		if err != nil {
			return 0, deviceError(err)
		}

		for ; offset < ringfs.SectorSize && cluster <= table.layout.MaxCluster; offset += 4 {
			if binary.LittleEndian.Uint32(table.sector[offset:])&clusterMask == 0 {
				free++
			}
			cluster++
		}
	}
	return free, nil
}
