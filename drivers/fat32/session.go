package fat32

import (
	"fmt"
	"strings"

	"github.com/ringos/ringfs"
)

// MaxDirectoryDepth is the number of ancestors a Session can remember, and so
// the deepest directory it can enter below the root.
const MaxDirectoryDepth = 16

// DirRef identifies a directory a Session has visited.
type DirRef struct {
	// Cluster is the first cluster of the directory.
	Cluster ClusterID
	// Name is the directory's 8.3 name. It is blank for the root directory.
	Name ShortName
	// Path is the absolute path of the directory, e.g. "/DOCS/OLD".
	Path string
}

// Session tracks a current directory on a mounted volume, along with the stack
// of directories above it, and runs file operations relative to it. Sessions
// are independent of each other; several can share one Volume.
type Session struct {
	volume    *Volume
	cwd       DirRef
	ancestors []DirRef
}

// NewSession creates a session positioned at the root directory.
func (v *Volume) NewSession() *Session {
	session := &Session{volume: v}
	session.Reset()
	return session
}

func (v *Volume) rootRef() DirRef {
	var blank ShortName
	for i := range blank {
		blank[i] = ' '
	}
	return DirRef{Cluster: v.layout.Root(), Name: blank, Path: "/"}
}

// Reset moves the session back to the root directory.
func (s *Session) Reset() {
	s.cwd = s.volume.rootRef()
	s.ancestors = make([]DirRef, 0, MaxDirectoryDepth)
}

// Volume returns the volume the session runs on.
func (s *Session) Volume() *Volume {
	return s.volume
}

// Cwd returns the current directory.
func (s *Session) Cwd() DirRef {
	return s.cwd
}

// Path returns the absolute path of the current directory. The root is
// rendered as "/".
func (s *Session) Path() string {
	return s.cwd.Path
}

// Depth returns how many directories below the root the session is.
func (s *Session) Depth() int {
	return len(s.ancestors)
}

func childPath(parent string, name ShortName) string {
	if parent == "/" {
		return "/" + name.String()
	}
	return parent + "/" + name.String()
}

// ChangeDirectory moves the session.
//
//   - "/" returns to the root directory.
//   - ".." returns to the parent directory. At the root this does nothing.
//   - "." does nothing.
//   - Any other name is looked up in the current directory and must be a
//     subdirectory.
//
// Targets containing a "/" are treated as paths; see ChangeDirectoryPath.
//
// Entering a directory deeper than MaxDirectoryDepth fails with
// ErrDirectoryStackFull. On any failure the session is left unchanged.
func (s *Session) ChangeDirectory(target string) error {
	switch {
	case target == "/":
		s.Reset()
		return nil
	case target == "..":
		if len(s.ancestors) == 0 {
			return nil
		}
		s.cwd = s.ancestors[len(s.ancestors)-1]
		s.ancestors = s.ancestors[:len(s.ancestors)-1]
		return nil
	case target == "." || target == "":
		return nil
	case strings.Contains(target, "/"):
		return s.ChangeDirectoryPath(target)
	}

	entry, err := s.volume.Find(s.cwd.Cluster, target)
	if err != nil {
		return err
	}
	if !entry.IsDir() {
		return ringfs.ErrNotADirectory.WithMessage(entry.Name())
	}
	if len(s.ancestors) >= MaxDirectoryDepth {
		return ringfs.ErrDirectoryStackFull.WithMessage(
			fmt.Sprintf("can't enter %s from %s", entry.Name(), s.cwd.Path))
	}

	s.ancestors = append(s.ancestors, s.cwd)
	s.cwd = DirRef{
		Cluster: s.volume.resolveDirectory(entry.FirstCluster()),
		Name:    entry.RawDirent.Name,
		Path:    childPath(s.cwd.Path, entry.RawDirent.Name),
	}
	return nil
}

// ChangeDirectoryPath follows a "/"-separated path one component at a time.
// An absolute path starts from the root. Either every component succeeds or
// the session is left where it was.
func (s *Session) ChangeDirectoryPath(path string) error {
	savedCwd := s.cwd
	savedAncestors := make([]DirRef, len(s.ancestors), MaxDirectoryDepth)
	copy(savedAncestors, s.ancestors)

	if strings.HasPrefix(path, "/") {
		s.Reset()
	}

	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		err := s.ChangeDirectory(component)
		if err != nil {
			s.cwd = savedCwd
			s.ancestors = savedAncestors
			return err
		}
	}
	return nil
}

// List lists the current directory. See Volume.List.
func (s *Session) List(fn ListFunc) error {
	return s.volume.List(s.cwd.Cluster, fn)
}

// Entries returns the visible entries of the current directory.
func (s *Session) Entries() ([]Entry, error) {
	return s.volume.Entries(s.cwd.Cluster)
}

// Find looks up `name` in the current directory.
func (s *Session) Find(name string) (Entry, error) {
	return s.volume.Find(s.cwd.Cluster, name)
}

// CreateFile creates an empty file in the current directory.
func (s *Session) CreateFile(name string) error {
	return s.volume.CreateFile(s.cwd.Cluster, name)
}

// CreateDirectory creates a subdirectory of the current directory.
func (s *Session) CreateDirectory(name string) error {
	return s.volume.CreateDirectory(s.cwd.Cluster, name)
}

// DeleteFile deletes a file from the current directory.
func (s *Session) DeleteFile(name string) error {
	return s.volume.DeleteFile(s.cwd.Cluster, name)
}

// WriteFile writes `data` to `name` in the current directory.
func (s *Session) WriteFile(name string, data []byte) error {
	return s.volume.WriteFile(s.cwd.Cluster, name, data)
}

// ReadFile reads `name` from the current directory into `buffer`.
func (s *Session) ReadFile(name string, buffer []byte) (int, error) {
	return s.volume.ReadFile(s.cwd.Cluster, name, buffer)
}

// ReadAll returns the contents of `name` in the current directory.
func (s *Session) ReadAll(name string) ([]byte, error) {
	return s.volume.ReadAll(s.cwd.Cluster, name)
}
