package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
	"github.com/ringos/ringfs"
)

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000

	// FSInfoUnknown in FreeCount or NextFree means the value isn't known and
	// must be computed from the FAT.
	FSInfoUnknown = 0xFFFFFFFF
)

// FSInfo is the FAT32 file system information sector. It caches the number of
// free clusters and a hint for where to start looking for one. Both values are
// advisory; the engine never trusts them over the FAT.
type FSInfo struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// NewFSInfo returns an information sector with valid signatures.
func NewFSInfo(freeCount uint32, nextFree uint32) FSInfo {
	return FSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       freeCount,
		NextFree:        nextFree,
		TrailSignature:  fsInfoTrailSignature,
	}
}

// ParseFSInfo decodes an information sector and checks its signatures.
func ParseFSInfo(sector []byte) (FSInfo, error) {
	var info FSInfo
	if len(sector) < ringfs.SectorSize {
		return info, ringfs.ErrBadVolume.WithMessage(
			fmt.Sprintf("FSInfo sector must be %d bytes, got %d", ringfs.SectorSize, len(sector)))
	}

	err := binary.Read(bytes.NewReader(sector[:ringfs.SectorSize]), binary.LittleEndian, &info)
	if err != nil {
		return info, ringfs.ErrBadVolume.Wrap(err)
	}

	if info.LeadSignature != fsInfoLeadSignature ||
		info.StructSignature != fsInfoStructSignature ||
		info.TrailSignature != fsInfoTrailSignature {
		return info, ringfs.ErrBadVolume.WithMessage("FSInfo sector has bad signatures")
	}
	return info, nil
}

// MarshalBinary encodes the information sector into a full sector.
func (info *FSInfo) MarshalBinary() ([]byte, error) {
	sector := make([]byte, ringfs.SectorSize)
	err := binary.Write(bytewriter.New(sector), binary.LittleEndian, info)
	if err != nil {
		return nil, err
	}
	return sector, nil
}

// FSInfo reads the volume's information sector. Volumes without one report
// ErrNotFound.
func (v *Volume) FSInfo() (FSInfo, error) {
	lba := uint32(v.layout.FSInfoSector)
	if lba == 0 || lba >= uint32(v.layout.ReservedSectors) {
		return FSInfo{}, ringfs.ErrNotFound.WithMessage("volume has no FSInfo sector")
	}

	sector := make([]byte, ringfs.SectorSize)
	err := v.device.ReadSectors(lba, 1, sector)
	if err != nil {
		return FSInfo{}, deviceError(err)
	}
	return ParseFSInfo(sector)
}
