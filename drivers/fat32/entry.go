package fat32

import (
	"os"
	"time"
)

// Slot locates a directory entry on disk: the sector holding it and its index
// within that sector.
type Slot struct {
	LBA   uint32
	Index int
}

// Entry is a decoded directory entry together with where it lives. It
// implements os.FileInfo.
type Entry struct {
	RawDirent
	// Slot is where the entry is stored.
	Slot Slot
	// Parent is the first cluster of the directory holding the entry.
	Parent ClusterID
}

// Name returns the 8.3 name rendered as BASE.EXT.
func (e Entry) Name() string {
	return e.RawDirent.Name.String()
}

func (e Entry) Size() int64 {
	return int64(e.FileSize)
}

// Mode maps the FAT attributes onto a file mode. FAT has no way to mark files
// as executable, so only directories get the executable bits.
func (e Entry) Mode() os.FileMode {
	if e.IsDir() {
		return os.ModeDir | 0o755
	}
	if e.Attributes&AttrReadOnly != 0 {
		return 0o444
	}
	return 0o644
}

func (e Entry) ModTime() time.Time {
	return e.RawDirent.ModTime()
}

func (e Entry) IsDir() bool {
	return e.RawDirent.IsDir()
}

// Sys returns the raw directory entry.
func (e Entry) Sys() interface{} {
	return e.RawDirent
}
