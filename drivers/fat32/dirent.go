package fat32

import (
	"encoding/binary"
	"strings"
	"time"
)

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 1 << iota

	// AttrHidden is an attribute flag marking a directory entry as "hidden",
	// meaning it wouldn't show up in normal directory listings. The engine
	// passes it through and doesn't act on it.
	AttrHidden

	// AttrSystem is an attribute flag marking a directory entry as essential to
	// the operating system.
	AttrSystem

	// AttrVolumeLabel is an attribute flag that marks an entry in the root
	// directory as holding the volume label rather than a file. Listings and
	// lookups skip it.
	AttrVolumeLabel

	// AttrDirectory is an attribute flag marking a directory entry as being a
	// directory.
	AttrDirectory

	// AttrArchive is set on every file the engine creates or rewrites.
	AttrArchive
)

// AttrLongName is the attribute combination used by VFAT long file name
// entries. They're never produced, and are skipped when reading.
const AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel

const (
	// DirentSize is the size of a single raw directory entry, in bytes.
	DirentSize = 32
	// DirentsPerSector is the number of directory entries in one sector.
	DirentsPerSector = 512 / DirentSize

	// endOfDirectoryMarker as the first name byte means this entry and every
	// one after it are unused.
	endOfDirectoryMarker = 0x00
	// deletedMarker as the first name byte means the slot is free for reuse.
	deletedMarker = 0xE5
	// escapedE5Marker is stored in place of a real leading 0xE5 name byte.
	escapedE5Marker = 0x05
)

// ShortName is an 8.3 name as stored on disk: 8 bytes of base name followed by
// 3 bytes of extension, each padded with spaces. The dot is not stored.
type ShortName [11]byte

var (
	dotName    = ShortName{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dotDotName = ShortName{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

func toUpperASCII(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// NormalizeName converts a caller-supplied file name into its 8.3 form. The
// name is split on the first dot; up to 8 bytes of the base and 3 bytes of the
// extension are kept, uppercased and space-padded. Anything longer is cut off.
//
//	NormalizeName("test.bin") == "TEST    BIN"
//	NormalizeName("a")        == "A          "
func NormalizeName(name string) ShortName {
	switch name {
	case ".":
		return dotName
	case "..":
		return dotDotName
	}

	var short ShortName
	for i := range short {
		short[i] = ' '
	}

	base, ext, _ := strings.Cut(name, ".")
	for i := 0; i < len(base) && i < 8; i++ {
		short[i] = toUpperASCII(base[i])
	}
	for i := 0; i < len(ext) && i < 3; i++ {
		short[8+i] = toUpperASCII(ext[i])
	}
	return short
}

// Equal compares two names byte for byte across all 11 positions, ignoring
// ASCII case.
func (name ShortName) Equal(other ShortName) bool {
	for i := range name {
		if toUpperASCII(name[i]) != toUpperASCII(other[i]) {
			return false
		}
	}
	return true
}

// String renders the name as BASE.EXT, with padding removed. The dot is only
// included when there's an extension.
func (name ShortName) String() string {
	raw := name
	if raw[0] == escapedE5Marker {
		raw[0] = deletedMarker
	}

	base := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// IsDotEntry reports whether this is the "." or ".." entry of a directory.
func (name ShortName) IsDotEntry() bool {
	return name == dotName || name == dotDotName
}

// RawDirent is the on-disk representation of a directory entry, broken down
// into its constituent fields.
type RawDirent struct {
	Name              ShortName
	Attributes        uint8
	NTReserved        uint8
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// DecodeDirent deserializes the first 32 bytes of `data`.
func DecodeDirent(data []byte) RawDirent {
	dirent := RawDirent{
		Attributes:        data[11],
		NTReserved:        data[12],
		CreatedTimeTenths: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}
	copy(dirent.Name[:], data[:11])
	return dirent
}

// Encode serializes the entry into the first 32 bytes of `data`.
func (dirent *RawDirent) Encode(data []byte) {
	copy(data[:11], dirent.Name[:])
	data[11] = dirent.Attributes
	data[12] = dirent.NTReserved
	data[13] = dirent.CreatedTimeTenths
	binary.LittleEndian.PutUint16(data[14:16], dirent.CreatedTime)
	binary.LittleEndian.PutUint16(data[16:18], dirent.CreatedDate)
	binary.LittleEndian.PutUint16(data[18:20], dirent.LastAccessedDate)
	binary.LittleEndian.PutUint16(data[20:22], dirent.FirstClusterHigh)
	binary.LittleEndian.PutUint16(data[22:24], dirent.LastModifiedTime)
	binary.LittleEndian.PutUint16(data[24:26], dirent.LastModifiedDate)
	binary.LittleEndian.PutUint16(data[26:28], dirent.FirstClusterLow)
	binary.LittleEndian.PutUint32(data[28:32], dirent.FileSize)
}

// FirstCluster reassembles the 32-bit starting cluster from its two halves.
func (dirent *RawDirent) FirstCluster() ClusterID {
	return ClusterID(uint32(dirent.FirstClusterHigh)<<16 | uint32(dirent.FirstClusterLow))
}

// SetFirstCluster splits `cluster` across the two on-disk fields.
func (dirent *RawDirent) SetFirstCluster(cluster ClusterID) {
	dirent.FirstClusterHigh = uint16(uint32(cluster) >> 16)
	dirent.FirstClusterLow = uint16(uint32(cluster) & 0xFFFF)
}

// IsEndMarker reports whether this entry marks the end of the directory.
func (dirent *RawDirent) IsEndMarker() bool {
	return dirent.Name[0] == endOfDirectoryMarker
}

// IsDeleted reports whether this entry is a tombstone left by a delete.
func (dirent *RawDirent) IsDeleted() bool {
	return dirent.Name[0] == deletedMarker
}

// IsFree reports whether a new entry may be written into this slot.
func (dirent *RawDirent) IsFree() bool {
	return dirent.IsEndMarker() || dirent.IsDeleted()
}

// IsDir reports whether the entry describes a directory.
func (dirent *RawDirent) IsDir() bool {
	return dirent.Attributes&AttrDirectory != 0
}

// IsVolumeLabel reports whether the entry holds the volume label. Long name
// entries also carry this bit and are covered too.
func (dirent *RawDirent) IsVolumeLabel() bool {
	return dirent.Attributes&AttrVolumeLabel != 0
}

// isVisible reports whether a listing shows this entry.
func (dirent *RawDirent) isVisible() bool {
	return !dirent.IsFree() && !dirent.IsVolumeLabel() && !dirent.Name.IsDotEntry()
}

// Stamp sets every timestamp on the entry to `t`.
func (dirent *RawDirent) Stamp(t time.Time) {
	date, clock, tenths := EncodeTimestamp(t)
	dirent.CreatedDate = date
	dirent.CreatedTime = clock
	dirent.CreatedTimeTenths = tenths
	dirent.LastModifiedDate = date
	dirent.LastModifiedTime = clock
	dirent.LastAccessedDate = date
}

// Touch updates the modification and access timestamps to `t`.
func (dirent *RawDirent) Touch(t time.Time) {
	date, clock, _ := EncodeTimestamp(t)
	dirent.LastModifiedDate = date
	dirent.LastModifiedTime = clock
	dirent.LastAccessedDate = date
}

// ModTime returns the modification time of the entry.
func (dirent *RawDirent) ModTime() time.Time {
	return DecodeTimestamp(dirent.LastModifiedDate, dirent.LastModifiedTime, 0)
}

// CreateTime returns the creation time of the entry.
func (dirent *RawDirent) CreateTime() time.Time {
	return DecodeTimestamp(dirent.CreatedDate, dirent.CreatedTime, dirent.CreatedTimeTenths)
}

// EncodeTimestamp converts `t` into the FAT date, time and 10ms-unit fields.
// Times outside the range FAT can store are clamped to its first or last day.
func EncodeTimestamp(t time.Time) (date uint16, clock uint16, tenths uint8) {
	t = t.UTC()
	switch {
	case t.Year() < 1980:
		return 1<<5 | 1, 0, 0
	case t.Year() > 2107:
		return 127<<9 | 12<<5 | 31, 23<<11 | 59<<5 | 29, 199
	}

	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	clock = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	tenths = uint8((t.Second()%2)*100 + t.Nanosecond()/10_000_000)
	return date, clock, tenths
}

// DecodeTimestamp converts FAT date and time fields into a time.Time in UTC.
// `tenths` counts 10ms units and should be 0 if the field isn't present.
func DecodeTimestamp(date uint16, clock uint16, tenths uint8) time.Time {
	if date == 0 {
		return time.Time{}
	}

	day := int(date & 0x1F)
	month := time.Month((date >> 5) & 0x0F)
	year := 1980 + int(date>>9)

	seconds := int(clock&0x1F)*2 + int(tenths)/100
	minutes := int((clock >> 5) & 0x3F)
	hours := int(clock >> 11)
	nanoseconds := (int(tenths) % 100) * 10_000_000

	return time.Date(year, month, day, hours, minutes, seconds, nanoseconds, time.UTC)
}
