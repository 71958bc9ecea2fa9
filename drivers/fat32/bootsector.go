// Package fat32 implements the FAT32 filesystem engine: boot sector parsing,
// the file allocation table, 8.3 directory entries, current-directory
// navigation and file operations, all on top of a ringfs.BlockDevice.
package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/noxer/bytewriter"
	"github.com/ringos/ringfs"
)

// BootSectorSize is the size of the BIOS parameter block prefix of sector 0
// that the engine reads and writes.
const BootSectorSize = 90

// BootSignature is stored little-endian at offset 510 of a valid boot sector.
const BootSignature uint16 = 0xAA55

// BootSector is the on-disk representation of the FAT32 boot sector, up to and
// including the file system type string. Field order and sizes match the disk
// layout exactly, so it can be decoded and encoded with encoding/binary.
type BootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	FATSize32         uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	Reserved          [12]byte
	DriveNumber       uint8
	NTReserved        uint8
	ExBootSignature   uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FileSystemType    [8]byte
}

// ParseBootSector decodes the first BootSectorSize bytes of `sector`. It does
// no validation beyond checking the length; see NewLayout.
func ParseBootSector(sector []byte) (BootSector, error) {
	var bs BootSector
	if len(sector) < BootSectorSize {
		return bs, ringfs.ErrBadVolume.WithMessage(
			fmt.Sprintf("boot sector must be at least %d bytes, got %d", BootSectorSize, len(sector)))
	}

	err := binary.Read(bytes.NewReader(sector[:BootSectorSize]), binary.LittleEndian, &bs)
	if err != nil {
		return bs, ringfs.ErrBadVolume.Wrap(err)
	}
	return bs, nil
}

// TotalSectors returns the size of the volume in sectors, whichever of the two
// fields it's stored in.
func (bs *BootSector) TotalSectors() uint32 {
	if bs.TotalSectors16 != 0 {
		return uint32(bs.TotalSectors16)
	}
	return bs.TotalSectors32
}

// Label returns the volume label with its padding removed.
func (bs *BootSector) Label() string {
	return strings.TrimRight(string(bs.VolumeLabel[:]), " \x00")
}

// MarshalBinary returns a full sector holding the encoded boot sector followed
// by zeroes and the 0x55AA signature.
func (bs *BootSector) MarshalBinary() ([]byte, error) {
	sector := make([]byte, ringfs.SectorSize)
	err := binary.Write(bytewriter.New(sector), binary.LittleEndian, bs)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint16(sector[510:], BootSignature)
	return sector, nil
}

// WriteTo writes the sector produced by MarshalBinary to `w`.
func (bs *BootSector) WriteTo(w io.Writer) (int64, error) {
	sector, err := bs.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(sector)
	return int64(n), err
}
