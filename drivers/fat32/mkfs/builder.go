// Package mkfs builds FAT32 volume images offline, in memory, from scratch.
//
// The images it produces use the same on-disk format the fat32 engine reads,
// and can also be mounted by any other FAT32 implementation. Unlike the engine,
// the builder allocates every file as one contiguous run of clusters and never
// grows a directory past its first cluster.
package mkfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/ringos/ringfs"
	"github.com/ringos/ringfs/drivers/common"
	"github.com/ringos/ringfs/drivers/fat32"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSizeMB is the image size used when no size option is given.
	DefaultSizeMB = 32

	mediaFixedDisk       = 0xF8
	fsInfoSector         = 1
	backupBootSector     = 6
	minSectorsForBackup  = backupBootSector + 2
	rootCluster          = fat32.FirstDataCluster
	endOfChainFinal      = fat32.ClusterID(0x0FFFFFFF)
	defaultVolumeLabel   = "NO NAME    "
	defaultOEMName       = "RINGFS  "
	fileSystemTypeString = "FAT32   "
)

// Builder lays out a FAT32 volume in memory and fills it with directories and
// files. It is not safe for concurrent use.
type Builder struct {
	totalSectors      uint32
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	label             [11]byte
	oemName           [8]byte
	volumeID          uint32
	timestamp         time.Time
	log               logrus.FieldLogger

	device    *common.MemoryDevice
	layout    *fat32.Layout
	table     *fat32.Table
	allocator common.Allocator

	// target is where sector reads and writes for directories, files and the
	// FAT go. It is normally device itself.
	target ringfs.BlockDevice
}

// New formats an empty volume according to `opts`. The result holds only the
// root directory and, if a label was given, its volume label entry.
func New(opts ...Option) (*Builder, error) {
	volumeUUID := uuid.New()
	b := &Builder{
		totalSectors:      DefaultSizeMB * 1024 * 1024 / ringfs.SectorSize,
		sectorsPerCluster: 1,
		reservedSectors:   32,
		numFATs:           2,
		volumeID:          binary.LittleEndian.Uint32(volumeUUID[:4]),
		timestamp:         time.Now(),
	}
	copy(b.label[:], defaultVolumeLabel)
	copy(b.oemName[:], defaultOEMName)

	for _, opt := range opts {
		err := opt(b)
		if err != nil {
			return nil, err
		}
	}
	if b.log == nil {
		b.log = ringfs.DiscardLogger()
	}

	err := b.format()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// computeFATSize returns the number of sectors each FAT copy needs. It starts
// from the estimate in Microsoft's FAT specification, which can overshoot by a
// little but never undershoots, then checks that every data cluster really
// has an entry.
func computeFATSize(totalSectors uint32, reserved uint16, spc uint8, numFATs uint8) (uint32, error) {
	if uint32(reserved) >= totalSectors {
		return 0, ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("volume of %d sectors has no room after %d reserved", totalSectors, reserved))
	}

	available := uint64(totalSectors) - uint64(reserved)
	divisor := (256*uint64(spc) + uint64(numFATs)) / 2
	fatSize := (available + divisor - 1) / divisor

	for {
		dataStart := uint64(reserved) + uint64(numFATs)*fatSize
		if dataStart >= uint64(totalSectors) {
			return 0, ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("volume of %d sectors is too small to hold its FATs", totalSectors))
		}
		clusters := (uint64(totalSectors) - dataStart) / uint64(spc)
		if fatSize*(ringfs.SectorSize/4) >= clusters+2 {
			return uint32(fatSize), nil
		}
		fatSize++
	}
}

func (b *Builder) bootSector(fatSize uint32) fat32.BootSector {
	bs := fat32.BootSector{
		JmpBoot:           [3]byte{0xEB, 0x58, 0x90},
		OEMName:           b.oemName,
		BytesPerSector:    ringfs.SectorSize,
		SectorsPerCluster: b.sectorsPerCluster,
		ReservedSectors:   b.reservedSectors,
		NumFATs:           b.numFATs,
		Media:             mediaFixedDisk,
		SectorsPerTrack:   32,
		NumHeads:          64,
		TotalSectors32:    b.totalSectors,
		FATSize32:         fatSize,
		RootCluster:       uint32(rootCluster),
		FSInfoSector:      fsInfoSector,
		DriveNumber:       0x80,
		ExBootSignature:   0x29,
		VolumeID:          b.volumeID,
		VolumeLabel:       b.label,
	}
	if b.reservedSectors >= minSectorsForBackup {
		bs.BackupBootSector = backupBootSector
	}
	copy(bs.FileSystemType[:], fileSystemTypeString)
	return bs
}

// format writes the boot sector, the FSInfo sector, their backups, and the
// initial FAT entries.
func (b *Builder) format() error {
	fatSize, err := computeFATSize(b.totalSectors, b.reservedSectors, b.sectorsPerCluster, b.numFATs)
	if err != nil {
		return err
	}

	bs := b.bootSector(fatSize)
	b.layout, err = fat32.NewLayout(bs)
	if err != nil {
		return err
	}

	b.device = common.NewMemoryDevice(b.totalSectors)
	b.target = b.device
	b.table = fat32.NewTable(b.target, b.layout, b.log)
	b.allocator = common.NewAllocator(uint(b.layout.MaxCluster) + 1)

	sector, err := bs.MarshalBinary()
	if err != nil {
		return err
	}
	err = b.device.WriteSectors(0, 1, sector)
	if err != nil {
		return err
	}
	if bs.BackupBootSector != 0 {
		err = b.device.WriteSectors(uint32(bs.BackupBootSector), 1, sector)
		if err != nil {
			return err
		}
	}

	// Entry 0 holds the media descriptor, entry 1 an end-of-chain marker, and
	// the root directory gets a one-cluster chain.
	err = b.table.Set(0, fat32.ClusterID(0x0FFFFF00|mediaFixedDisk))
	if err == nil {
		err = b.table.Set(1, endOfChainFinal)
	}
	if err == nil {
		err = b.table.Set(rootCluster, endOfChainFinal)
	}
	if err != nil {
		return err
	}
	err = b.allocator.MarkAllocated(0, uint(rootCluster)+1)
	if err != nil {
		return err
	}

	if string(b.label[:]) != defaultVolumeLabel {
		label := fat32.RawDirent{Attributes: fat32.AttrVolumeLabel}
		copy(label.Name[:], b.label[:])
		label.Stamp(b.timestamp)
		err = b.writeDirent(fat32.Slot{LBA: b.layout.ClusterToLBA(rootCluster)}, label)
		if err != nil {
			return err
		}
	}

	b.log.WithFields(logrus.Fields{
		"total_sectors":       b.totalSectors,
		"sectors_per_cluster": b.sectorsPerCluster,
		"fat_size":            fatSize,
		"clusters":            b.layout.TotalClusters,
	}).Debug("formatted volume")

	return b.syncFSInfo()
}

// syncFSInfo records the current free cluster count in the FSInfo sector and
// its backup.
func (b *Builder) syncFSInfo() error {
	nextFree := uint32(fat32.FSInfoUnknown)
	if unit, err := b.allocator.FindContiguousValues(false, 1); err == nil {
		nextFree = uint32(unit)
	}

	info := fat32.NewFSInfo(uint32(b.FreeClusters()), nextFree)
	sector, err := info.MarshalBinary()
	if err != nil {
		return err
	}

	err = b.device.WriteSectors(fsInfoSector, 1, sector)
	if err != nil {
		return err
	}
	if b.layout.BackupBootSector != 0 {
		return b.device.WriteSectors(uint32(b.layout.BackupBootSector)+1, 1, sector)
	}
	return nil
}

// Root returns the first cluster of the root directory.
func (b *Builder) Root() fat32.ClusterID {
	return rootCluster
}

// Layout returns the geometry of the volume being built.
func (b *Builder) Layout() *fat32.Layout {
	return b.layout
}

// FreeClusters returns the number of data clusters not yet used. The
// allocator covers clusters 0 and 1 too, but those are never free.
func (b *Builder) FreeClusters() uint {
	return b.allocator.CountFree()
}

// Device returns the in-memory device holding the image, for mounting it with
// the fat32 engine without copying it.
func (b *Builder) Device() *common.MemoryDevice {
	return b.device
}

// Bytes returns the raw image. The slice is shared with the builder.
func (b *Builder) Bytes() ([]byte, error) {
	err := b.syncFSInfo()
	if err != nil {
		return nil, err
	}
	return b.device.Bytes(), nil
}

// WriteTo writes the raw image to `w`.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	image, err := b.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(image)
	return int64(n), err
}

// findSlot scans the first cluster of directory `dir` for a free slot. It
// fails with ErrExists if `name` is already there and ErrNoFreeSlot if the
// cluster is full.
func (b *Builder) findSlot(dir fat32.ClusterID, name fat32.ShortName) (fat32.Slot, error) {
	if !b.layout.IsDataCluster(dir) || !b.allocator.IsAllocated(common.UnitID(dir)) {
		return fat32.Slot{}, ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("cluster %d is not a directory on this volume", dir))
	}

	sector := make([]byte, ringfs.SectorSize)
	firstLBA := b.layout.ClusterToLBA(dir)
	var free *fat32.Slot

	for i := uint32(0); i < uint32(b.layout.SectorsPerCluster); i++ {
		err := b.target.ReadSectors(firstLBA+i, 1, sector)
		if err != nil {
			return fat32.Slot{}, err
		}

		for index := 0; index < fat32.DirentsPerSector; index++ {
			dirent := fat32.DecodeDirent(sector[index*fat32.DirentSize:])
			if dirent.IsEndMarker() {
				if free == nil {
					free = &fat32.Slot{LBA: firstLBA + i, Index: index}
				}
				return *free, nil
			}
			if dirent.IsDeleted() || dirent.IsVolumeLabel() {
				if dirent.IsDeleted() && free == nil {
					free = &fat32.Slot{LBA: firstLBA + i, Index: index}
				}
				continue
			}
			if dirent.Name.Equal(name) {
				return fat32.Slot{}, ringfs.ErrExists.WithMessage(name.String())
			}
		}
	}

	if free != nil {
		return *free, nil
	}
	return fat32.Slot{}, ringfs.ErrNoFreeSlot.WithMessage(
		fmt.Sprintf("directory at cluster %d is full", dir))
}

func (b *Builder) writeDirent(slot fat32.Slot, dirent fat32.RawDirent) error {
	sector := make([]byte, ringfs.SectorSize)
	err := b.target.ReadSectors(slot.LBA, 1, sector)
	if err != nil {
		return err
	}
	dirent.Encode(sector[slot.Index*fat32.DirentSize:])
	return b.target.WriteSectors(slot.LBA, 1, sector)
}

// allocateRun reserves `count` contiguous clusters and chains them together in
// the FAT, in order.
func (b *Builder) allocateRun(count uint) (fat32.ClusterID, error) {
	start, err := b.allocator.AllocateContiguous(count)
	if err != nil {
		return 0, ringfs.ErrOutOfClusters.WithMessage(
			fmt.Sprintf("no run of %d free clusters", count))
	}

	first := fat32.ClusterID(start)
	last := first + fat32.ClusterID(count) - 1
	for cluster := first; cluster < last; cluster++ {
		err = b.table.Set(cluster, cluster+1)
		if err != nil {
			return 0, b.releaseRun(first, count, err)
		}
	}
	err = b.table.Set(last, fat32.EndOfChain)
	if err != nil {
		return 0, b.releaseRun(first, count, err)
	}
	return first, nil
}

// releaseRun undoes allocateRun after `cause` aborted the operation that
// needed the run. Failures while releasing are reported alongside `cause`.
func (b *Builder) releaseRun(first fat32.ClusterID, count uint, cause error) error {
	var result *multierror.Error
	for i := uint(0); i < count; i++ {
		err := b.table.Set(first+fat32.ClusterID(i), fat32.FreeCluster)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	err := b.allocator.FreeContiguous(common.UnitID(first), count)
	if err != nil {
		result = multierror.Append(result, err)
	}

	if result != nil {
		return ringfs.CastToDriverError(cause).Wrap(result)
	}
	return cause
}

// CreateDirectory adds a subdirectory called `name` to the directory starting
// at `parent` and returns its cluster.
func (b *Builder) CreateDirectory(parent fat32.ClusterID, name string) (fat32.ClusterID, error) {
	err := fat32.ValidateName(name)
	if err != nil {
		return 0, err
	}

	short := fat32.NormalizeName(name)
	slot, err := b.findSlot(parent, short)
	if err != nil {
		return 0, err
	}

	cluster, err := b.allocateRun(1)
	if err != nil {
		return 0, err
	}

	self := fat32.RawDirent{Name: fat32.NormalizeName("."), Attributes: fat32.AttrDirectory}
	self.SetFirstCluster(cluster)
	self.Stamp(b.timestamp)

	up := fat32.RawDirent{Name: fat32.NormalizeName(".."), Attributes: fat32.AttrDirectory}
	if parent != rootCluster {
		up.SetFirstCluster(parent)
	}
	up.Stamp(b.timestamp)

	firstLBA := b.layout.ClusterToLBA(cluster)
	err = b.writeDirent(fat32.Slot{LBA: firstLBA, Index: 0}, self)
	if err == nil {
		err = b.writeDirent(fat32.Slot{LBA: firstLBA, Index: 1}, up)
	}
	if err == nil {
		dirent := fat32.RawDirent{Name: short, Attributes: fat32.AttrDirectory}
		dirent.SetFirstCluster(cluster)
		dirent.Stamp(b.timestamp)
		err = b.writeDirent(slot, dirent)
	}
	if err != nil {
		return 0, b.releaseRun(cluster, 1, err)
	}
	return cluster, nil
}

// CreateFile adds a file called `name` holding `data` to the directory
// starting at `parent`. The data is stored in a single contiguous run of
// clusters. Empty files get no clusters.
func (b *Builder) CreateFile(parent fat32.ClusterID, name string, data []byte) error {
	err := fat32.ValidateName(name)
	if err != nil {
		return err
	}
	if uint64(len(data)) > math.MaxUint32 {
		return ringfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("%s: %d bytes won't fit in a FAT32 file", name, len(data)))
	}

	short := fat32.NormalizeName(name)
	slot, err := b.findSlot(parent, short)
	if err != nil {
		return err
	}

	dirent := fat32.RawDirent{Name: short, Attributes: fat32.AttrArchive, FileSize: uint32(len(data))}
	dirent.Stamp(b.timestamp)

	if len(data) == 0 {
		return b.writeDirent(slot, dirent)
	}

	clusters := uint((uint64(len(data)) + uint64(b.layout.BytesPerCluster) - 1) /
		uint64(b.layout.BytesPerCluster))
	first, err := b.allocateRun(clusters)
	if err != nil {
		return err
	}
	err = b.writeRun(b.layout.ClusterToLBA(first), data)
	if err == nil {
		dirent.SetFirstCluster(first)
		err = b.writeDirent(slot, dirent)
	}
	if err != nil {
		return b.releaseRun(first, clusters, err)
	}
	return nil
}

// writeRun writes `data` to consecutive sectors starting at `lba`, padding the
// last sector with zeroes.
func (b *Builder) writeRun(lba uint32, data []byte) error {
	const maxBytesPerWrite = ringfs.MaxSectorsPerTransfer * ringfs.SectorSize

	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxBytesPerWrite {
			chunk = chunk[:maxBytesPerWrite]
		}

		sectors := (len(chunk) + ringfs.SectorSize - 1) / ringfs.SectorSize
		buffer := make([]byte, sectors*ringfs.SectorSize)
		copy(buffer, chunk)

		err := b.target.WriteSectors(lba, uint8(sectors), buffer)
		if err != nil {
			return err
		}
		lba += uint32(sectors)
		data = data[len(chunk):]
	}
	return nil
}
