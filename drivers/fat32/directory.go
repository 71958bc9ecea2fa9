package fat32

import (
	"github.com/ringos/ringfs"
	"github.com/sirupsen/logrus"
)

// resolveDirectory maps cluster 0, which ".." entries use to point at the
// root directory, to the real root cluster.
func (v *Volume) resolveDirectory(dir ClusterID) ClusterID {
	if dir == FreeCluster {
		return v.layout.Root()
	}
	return dir
}

// forEachSlot calls `fn` with every 32-byte slot of the directory starting at
// `dir`, sector by sector, until `fn` returns an error. Returning errStopWalk
// ends the scan without an error. The slot bytes are only valid during the
// call.
func (v *Volume) forEachSlot(
	dir ClusterID, fn func(cluster ClusterID, slot Slot, raw []byte) error,
) error {
	sector := make([]byte, ringfs.SectorSize)
	spc := uint32(v.layout.SectorsPerCluster)

	return v.table.Walk(v.resolveDirectory(dir), func(cluster ClusterID) error {
		firstSector := v.layout.ClusterToLBA(cluster)
		for i := uint32(0); i < spc; i++ {
			lba := firstSector + i
			err := v.device.ReadSectors(lba, 1, sector)
			if err != nil {
				return deviceError(err)
			}

			for index := 0; index < DirentsPerSector; index++ {
				offset := index * DirentSize
				err = fn(cluster, Slot{LBA: lba, Index: index}, sector[offset:offset+DirentSize])
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// scanDirectory calls `fn` for every entry in the directory up to the end
// marker, including deleted entries. Returning errStopWalk from `fn` ends the
// scan early.
func (v *Volume) scanDirectory(dir ClusterID, fn func(dirent RawDirent, slot Slot) error) error {
	return v.forEachSlot(dir, func(_ ClusterID, slot Slot, raw []byte) error {
		if raw[0] == endOfDirectoryMarker {
			return errStopWalk
		}
		return fn(DecodeDirent(raw), slot)
	})
}

// findFreeSlot returns the first slot in the directory that is either deleted
// or past the end marker. If every slot is taken the directory is extended by
// one cluster.
func (v *Volume) findFreeSlot(dir ClusterID) (Slot, error) {
	var found *Slot
	last := v.resolveDirectory(dir)

	err := v.forEachSlot(dir, func(cluster ClusterID, slot Slot, raw []byte) error {
		last = cluster
		if raw[0] == endOfDirectoryMarker || raw[0] == deletedMarker {
			found = &slot
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return Slot{}, err
	}
	if found != nil {
		return *found, nil
	}
	return v.extendDirectory(last)
}

// extendDirectory allocates a zeroed cluster, links it after `last`, and
// returns the first slot in it.
func (v *Volume) extendDirectory(last ClusterID) (Slot, error) {
	cluster, err := v.table.AllocateOne()
	if err != nil {
		return Slot{}, err
	}

	err = v.zeroCluster(cluster)
	if err == nil {
		err = v.table.Link(last, cluster)
	}
	if err != nil {
		return Slot{}, v.releaseChain(cluster, err)
	}

	v.log.WithFields(logrus.Fields{
		"last":    last,
		"cluster": cluster,
	}).Debug("extended directory")
	return Slot{LBA: v.layout.ClusterToLBA(cluster), Index: 0}, nil
}

// zeroCluster fills every sector of `cluster` with zeroes.
func (v *Volume) zeroCluster(cluster ClusterID) error {
	spc := v.layout.SectorsPerCluster
	zeroes := make([]byte, int(spc)*ringfs.SectorSize)
	err := v.device.WriteSectors(v.layout.ClusterToLBA(cluster), spc, zeroes)
	if err != nil {
		return deviceError(err)
	}
	return nil
}

// writeDirent stores `dirent` in `slot`, leaving the other entries in the
// sector alone.
func (v *Volume) writeDirent(slot Slot, dirent RawDirent) error {
	sector := make([]byte, ringfs.SectorSize)
	err := v.device.ReadSectors(slot.LBA, 1, sector)
	if err != nil {
		return deviceError(err)
	}

	dirent.Encode(sector[slot.Index*DirentSize:])
	err = v.device.WriteSectors(slot.LBA, 1, sector)
	if err != nil {
		return deviceError(err)
	}
	return nil
}
