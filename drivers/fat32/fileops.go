package fat32

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ringos/ringfs"
	"github.com/sirupsen/logrus"
)

// ListFunc is called once per visible directory entry, in on-disk order.
type ListFunc func(name ShortName, size uint32, attributes uint8) error

// ValidateName rejects names that can't be stored as a single directory entry.
// The check is made on the 8.3 form: its base can't be empty, and no byte may
// be a control character or collide with the free and deleted markers.
func ValidateName(name string) error {
	switch {
	case name == "":
		return ringfs.ErrInvalidArgument.WithMessage("file name is empty")
	case name == "." || name == "..":
		return ringfs.ErrInvalidArgument.WithMessage(fmt.Sprintf("%q is reserved", name))
	case strings.ContainsAny(name, "/\\"):
		return ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q must not contain a path separator", name))
	}

	short := NormalizeName(name)
	if short[0] == ' ' || short[0] == deletedMarker {
		return ringfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q can't be stored as an 8.3 name", name))
	}
	for _, b := range short {
		if b < 0x20 {
			return ringfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("%q contains control character %#02x", name, b))
		}
	}
	return nil
}

// releaseChain frees the chain starting at `start` after `cause` aborted an
// operation. A failure to free is reported alongside `cause`.
func (v *Volume) releaseChain(start ClusterID, cause error) error {
	err := v.table.FreeChain(start)
	if err != nil {
		return ringfs.CastToDriverError(cause).Wrap(err)
	}
	return cause
}

// List calls `fn` for every entry in the directory except deleted entries,
// volume labels and the "." and ".." entries. The walk stops at the end marker,
// or at the first error from the device or from `fn`.
func (v *Volume) List(dir ClusterID, fn ListFunc) error {
	return v.scanDirectory(dir, func(dirent RawDirent, _ Slot) error {
		if !dirent.isVisible() {
			return nil
		}
		return fn(dirent.Name, dirent.FileSize, dirent.Attributes)
	})
}

// Entries returns every entry List would report.
func (v *Volume) Entries(dir ClusterID) ([]Entry, error) {
	entries := []Entry{}
	resolved := v.resolveDirectory(dir)
	err := v.scanDirectory(dir, func(dirent RawDirent, slot Slot) error {
		if dirent.isVisible() {
			entries = append(entries, Entry{RawDirent: dirent, Slot: slot, Parent: resolved})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Find returns the entry in the directory whose name matches `name` after 8.3
// normalization. Deleted entries and volume labels never match.
func (v *Volume) Find(dir ClusterID, name string) (Entry, error) {
	target := NormalizeName(name)
	resolved := v.resolveDirectory(dir)

	var found *Entry
	err := v.scanDirectory(dir, func(dirent RawDirent, slot Slot) error {
		if dirent.IsDeleted() || dirent.IsVolumeLabel() {
			return nil
		}
		if dirent.Name.Equal(target) {
			found = &Entry{RawDirent: dirent, Slot: slot, Parent: resolved}
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if found == nil {
		return Entry{}, ringfs.ErrNotFound.WithMessage(target.String())
	}
	return *found, nil
}

// checkAbsent fails with ErrExists if `name` is already in the directory.
func (v *Volume) checkAbsent(dir ClusterID, name string) error {
	_, err := v.Find(dir, name)
	if err == nil {
		return ringfs.ErrExists.WithMessage(NormalizeName(name).String())
	}
	if errors.Is(err, ringfs.ErrNotFound) {
		return nil
	}
	return err
}

// CreateFile adds an empty file to the directory. No cluster is allocated
// until data is written to it.
func (v *Volume) CreateFile(dir ClusterID, name string) error {
	err := ValidateName(name)
	if err != nil {
		return err
	}
	err = v.checkAbsent(dir, name)
	if err != nil {
		return err
	}

	slot, err := v.findFreeSlot(dir)
	if err != nil {
		return err
	}

	dirent := RawDirent{Name: NormalizeName(name), Attributes: AttrArchive}
	dirent.Stamp(v.clock())
	return v.writeDirent(slot, dirent)
}

// CreateDirectory adds a subdirectory. Its first cluster is allocated and
// filled with "." and ".." entries before the new entry is linked into the
// parent, so it can be navigated into right away. Following FAT convention,
// ".." holds 0 when the parent is the root directory.
func (v *Volume) CreateDirectory(dir ClusterID, name string) error {
	err := ValidateName(name)
	if err != nil {
		return err
	}
	err = v.checkAbsent(dir, name)
	if err != nil {
		return err
	}

	parent := v.resolveDirectory(dir)
	cluster, err := v.table.AllocateOne()
	if err != nil {
		return err
	}

	err = v.initDirectoryCluster(cluster, parent)
	if err != nil {
		return v.releaseChain(cluster, err)
	}

	slot, err := v.findFreeSlot(parent)
	if err != nil {
		return v.releaseChain(cluster, err)
	}

	dirent := RawDirent{Name: NormalizeName(name), Attributes: AttrDirectory}
	dirent.SetFirstCluster(cluster)
	dirent.Stamp(v.clock())
	err = v.writeDirent(slot, dirent)
	if err != nil {
		return v.releaseChain(cluster, err)
	}

	v.log.WithFields(logrus.Fields{
		"name":    dirent.Name.String(),
		"cluster": cluster,
		"parent":  parent,
	}).Debug("created directory")
	return nil
}

// initDirectoryCluster zeroes `cluster` and writes the "." and ".." entries of
// a directory whose parent starts at `parent`.
func (v *Volume) initDirectoryCluster(cluster ClusterID, parent ClusterID) error {
	err := v.zeroCluster(cluster)
	if err != nil {
		return err
	}

	now := v.clock()
	self := RawDirent{Name: dotName, Attributes: AttrDirectory}
	self.SetFirstCluster(cluster)
	self.Stamp(now)

	up := RawDirent{Name: dotDotName, Attributes: AttrDirectory}
	if parent != v.layout.Root() {
		up.SetFirstCluster(parent)
	}
	up.Stamp(now)

	sector := make([]byte, ringfs.SectorSize)
	self.Encode(sector[0:])
	up.Encode(sector[DirentSize:])
	err = v.device.WriteSectors(v.layout.ClusterToLBA(cluster), 1, sector)
	if err != nil {
		return deviceError(err)
	}
	return nil
}

// DeleteFile marks a file's entry as deleted. The slot can be reused by later
// creates. The file's cluster chain is left allocated.
func (v *Volume) DeleteFile(dir ClusterID, name string) error {
	err := ValidateName(name)
	if err != nil {
		return err
	}

	entry, err := v.Find(dir, name)
	if err != nil {
		return err
	}
	if entry.IsDir() {
		return ringfs.ErrIsADirectory.WithMessage(entry.Name())
	}

	tombstone := entry.RawDirent
	tombstone.Name[0] = deletedMarker
	return v.writeDirent(entry.Slot, tombstone)
}

// writeChain allocates clusters for `data` one at a time, writes the data into
// them and links them together. It returns the first cluster, or FreeCluster
// if `data` is empty. On failure every cluster it allocated is freed again.
func (v *Volume) writeChain(data []byte) (ClusterID, error) {
	if len(data) == 0 {
		return FreeCluster, nil
	}

	spc := uint32(v.layout.SectorsPerCluster)
	first := FreeCluster
	prev := FreeCluster

	for remaining := data; len(remaining) > 0; {
		cluster, err := v.table.AllocateOne()
		if err != nil {
			return FreeCluster, v.releaseChain(first, err)
		}

		if prev == FreeCluster {
			first = cluster
		} else {
			err = v.table.Link(prev, cluster)
			if err != nil {
				// The new cluster isn't in the chain yet, so it's freed on its own.
				freeErr := v.table.Set(cluster, FreeCluster)
				if freeErr != nil {
					err = ringfs.CastToDriverError(err).Wrap(freeErr)
				}
				return FreeCluster, v.releaseChain(first, err)
			}
		}
		prev = cluster

		sectors := (uint32(len(remaining)) + ringfs.SectorSize - 1) / ringfs.SectorSize
		if sectors > spc {
			sectors = spc
		}

		// The final sector of a file is usually partial; pad it with zeroes.
		buffer := make([]byte, sectors*ringfs.SectorSize)
		n := copy(buffer, remaining)
		err = v.device.WriteSectors(v.layout.ClusterToLBA(cluster), uint8(sectors), buffer)
		if err != nil {
			return FreeCluster, v.releaseChain(first, deviceError(err))
		}
		remaining = remaining[n:]
	}
	return first, nil
}

// WriteFile stores `data` as the contents of `name`. The data is written to
// freshly allocated clusters first and the directory entry is committed last,
// so a failure never leaves an entry pointing at a partial chain.
//
// If `name` already exists as a regular file it is replaced in place and its
// old clusters are freed once the new entry is committed.
func (v *Volume) WriteFile(dir ClusterID, name string, data []byte) error {
	err := ValidateName(name)
	if err != nil {
		return err
	}
	if uint64(len(data)) > math.MaxUint32 {
		return ringfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("%d bytes won't fit in a FAT32 file", len(data)))
	}

	existing, err := v.Find(dir, name)
	found := err == nil
	if err != nil && !errors.Is(err, ringfs.ErrNotFound) {
		return err
	}
	if found && existing.IsDir() {
		return ringfs.ErrIsADirectory.WithMessage(existing.Name())
	}

	first, err := v.writeChain(data)
	if err != nil {
		return err
	}

	var slot Slot
	var dirent RawDirent
	if found {
		slot = existing.Slot
		dirent = existing.RawDirent
		dirent.Attributes |= AttrArchive
		dirent.Touch(v.clock())
	} else {
		slot, err = v.findFreeSlot(dir)
		if err != nil {
			return v.releaseChain(first, err)
		}
		dirent = RawDirent{Name: NormalizeName(name), Attributes: AttrArchive}
		dirent.Stamp(v.clock())
	}
	dirent.SetFirstCluster(first)
	dirent.FileSize = uint32(len(data))

	err = v.writeDirent(slot, dirent)
	if err != nil {
		return v.releaseChain(first, err)
	}

	v.log.WithFields(logrus.Fields{
		"name":    dirent.Name.String(),
		"size":    len(data),
		"cluster": first,
	}).Debug("wrote file")

	if found {
		return v.table.FreeChain(existing.FirstCluster())
	}
	return nil
}

// ReadFile copies the contents of `name` into `buffer` and returns the number
// of bytes read. If `buffer` is too small nothing is read, and the size it
// needs to be is returned along with ErrBufferTooSmall.
func (v *Volume) ReadFile(dir ClusterID, name string, buffer []byte) (int, error) {
	entry, err := v.Find(dir, name)
	if err != nil {
		return 0, err
	}
	return v.readEntry(entry, buffer)
}

// ReadAll returns the contents of `name` in a new slice. The size recorded in
// the entry is checked against the length of the file's chain before anything
// is allocated.
func (v *Volume) ReadAll(dir ClusterID, name string) ([]byte, error) {
	entry, err := v.Find(dir, name)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, ringfs.ErrIsADirectory.WithMessage(entry.Name())
	}
	if entry.FileSize == 0 {
		return []byte{}, nil
	}
	if entry.FirstCluster() == FreeCluster {
		return nil, ringfs.ErrTruncatedFile.WithMessage(
			fmt.Sprintf("%s has %d bytes but no clusters", entry.Name(), entry.FileSize))
	}

	chain, err := v.table.Chain(entry.FirstCluster())
	if err != nil {
		return nil, err
	}
	capacity := uint64(len(chain)) * uint64(v.layout.BytesPerCluster)
	if capacity < uint64(entry.FileSize) {
		return nil, ringfs.ErrTruncatedFile.WithMessage(
			fmt.Sprintf(
				"%s has %d bytes but its chain only holds %d",
				entry.Name(),
				entry.FileSize,
				capacity,
			),
		)
	}

	buffer := make([]byte, entry.FileSize)
	n, err := v.readEntry(entry, buffer)
	if err != nil {
		return nil, err
	}
	return buffer[:n], nil
}

func (v *Volume) readEntry(entry Entry, buffer []byte) (int, error) {
	if entry.IsDir() {
		return 0, ringfs.ErrIsADirectory.WithMessage(entry.Name())
	}

	size := int(entry.FileSize)
	if len(buffer) < size {
		return size, ringfs.ErrBufferTooSmall.WithMessage(
			fmt.Sprintf("%s needs %d bytes, buffer holds %d", entry.Name(), size, len(buffer)))
	}
	if size == 0 {
		return 0, nil
	}
	if entry.FirstCluster() == FreeCluster {
		return 0, ringfs.ErrTruncatedFile.WithMessage(
			fmt.Sprintf("%s has %d bytes but no clusters", entry.Name(), size))
	}

	spc := uint32(v.layout.SectorsPerCluster)
	clusterBuffer := make([]byte, v.layout.BytesPerCluster)
	copied := 0

	err := v.table.Walk(entry.FirstCluster(), func(cluster ClusterID) error {
		remaining := size - copied
		sectors := (uint32(remaining) + ringfs.SectorSize - 1) / ringfs.SectorSize
		if sectors > spc {
			sectors = spc
		}

		chunk := clusterBuffer[:sectors*ringfs.SectorSize]
		err := v.device.ReadSectors(v.layout.ClusterToLBA(cluster), uint8(sectors), chunk)
		if err != nil {
			return deviceError(err)
		}

		copied += copy(buffer[copied:size], chunk)
		if copied == size {
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return copied, err
	}

	if copied < size {
		return copied, ringfs.ErrTruncatedFile.WithMessage(
			fmt.Sprintf("%s: chain ended after %d of %d bytes", entry.Name(), copied, size))
	}
	return copied, nil
}
