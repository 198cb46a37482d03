package pointio

import (
	"fmt"
	"io"

	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
)

// FileWriter streams points into a temporary file next to its destination
// and renames it into place on Commit. Either the whole point set reaches
// the destination or nothing does.
type FileWriter struct {
	fsys fsutil.FileSystem
	path string
	tmp  string
	f    io.WriteCloser
	w    *Writer
}

// CreateFile opens a FileWriter for path.
func CreateFile(fsys fsutil.FileSystem, path string) (*FileWriter, error) {
	tmp := path + ".tmp"
	f, err := fsys.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	return &FileWriter{fsys: fsys, path: path, tmp: tmp, f: f, w: NewWriter(f)}, nil
}

// Write appends pts.
func (fw *FileWriter) Write(pts []geo.LatLon) error {
	if err := fw.w.Write(pts); err != nil {
		return fmt.Errorf("%s: %w", fw.path, err)
	}
	return nil
}

// Count returns the number of points written so far.
func (fw *FileWriter) Count() int64 { return fw.w.Count() }

// Commit closes the temporary file and moves it to the destination.
func (fw *FileWriter) Commit() error {
	if err := fw.f.Close(); err != nil {
		fw.fsys.Remove(fw.tmp)
		return fmt.Errorf("close %s: %w", fw.tmp, err)
	}
	if err := fw.fsys.Rename(fw.tmp, fw.path); err != nil {
		fw.fsys.Remove(fw.tmp)
		return fmt.Errorf("rename %s: %w", fw.tmp, err)
	}
	return nil
}

// Abort discards everything written.
func (fw *FileWriter) Abort() {
	fw.f.Close()
	fw.fsys.Remove(fw.tmp)
}
