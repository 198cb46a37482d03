// Package pointio reads and writes point-cloud and query-workload files.
//
// Point clouds use a flat binary layout: a sequence of little-endian
// IEEE-754 float64 values with no header, length prefix or delimiter. Each
// point occupies 16 bytes, latitude first and longitude second. Historical
// files with float32 values or (lon, lat) order are not readable with this
// package.
package pointio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
)

// PointSize is the encoded size of one (lat, lon) pair.
const PointSize = 16

// DefaultChunk is the number of points a Reader returns per call when no
// chunk size is given.
const DefaultChunk = 1 << 16

// ErrFormat is returned for files that do not follow the expected layout.
var ErrFormat = errors.New("invalid file format")

var byteOrder = binary.LittleEndian

// Writer encodes points to an underlying writer.
type Writer struct {
	bw      *bufio.Writer
	scratch [PointSize]byte
	written int64
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(w, 1<<20)}
}

// Write encodes pts in order and flushes them to the underlying writer.
// A short write is reported as an error; callers must discard the output.
func (w *Writer) Write(pts []geo.LatLon) error {
	for _, p := range pts {
		byteOrder.PutUint64(w.scratch[0:8], math.Float64bits(p.Lat))
		byteOrder.PutUint64(w.scratch[8:16], math.Float64bits(p.Lon))
		if _, err := w.bw.Write(w.scratch[:]); err != nil {
			return fmt.Errorf("write point %d: %w", w.written, err)
		}
		w.written++
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush after point %d: %w", w.written, err)
	}
	return nil
}

// Count returns the number of points written so far.
func (w *Writer) Count() int64 { return w.written }

// Reader decodes points from an underlying reader in fixed-size chunks.
type Reader struct {
	r     io.Reader
	buf   []byte
	read  int64
	done  bool
	chunk int
}

// NewReader returns a Reader yielding up to chunk points per Next call.
func NewReader(r io.Reader, chunk int) *Reader {
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	return &Reader{
		r:     bufio.NewReaderSize(r, 1<<20),
		buf:   make([]byte, chunk*PointSize),
		chunk: chunk,
	}
}

// Next returns the next chunk of points. It returns io.EOF once the input
// is exhausted and ErrFormat if the input ends in the middle of a point.
func (r *Reader) Next() ([]geo.LatLon, error) {
	if r.done {
		return nil, io.EOF
	}
	n, err := io.ReadFull(r.r, r.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		r.done = true
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.done = true
		if n%PointSize != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes after point %d",
				ErrFormat, n%PointSize, r.read+int64(n/PointSize))
		}
	default:
		return nil, fmt.Errorf("read after point %d: %w", r.read, err)
	}

	pts := make([]geo.LatLon, n/PointSize)
	for i := range pts {
		off := i * PointSize
		pts[i] = geo.LatLon{
			Lat: math.Float64frombits(byteOrder.Uint64(r.buf[off : off+8])),
			Lon: math.Float64frombits(byteOrder.Uint64(r.buf[off+8 : off+16])),
		}
	}
	r.read += int64(len(pts))
	return pts, nil
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() (geo.Cloud, error) {
	var out geo.Cloud
	for {
		pts, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pts...)
	}
}

// ReservoirSample draws k points uniformly without replacement in a single
// pass and returns them with the total number of points read. When the
// input holds k points or fewer, all of them are returned in order.
func ReservoirSample(r *Reader, k int, rng *rand.Rand) ([]geo.LatLon, int64, error) {
	if k <= 0 {
		return nil, 0, fmt.Errorf("reservoir size must be positive, got %d", k)
	}
	sample := make([]geo.LatLon, 0, k)
	var seen int64
	for {
		pts, err := r.Next()
		if errors.Is(err, io.EOF) {
			return sample, seen, nil
		}
		if err != nil {
			return nil, seen, err
		}
		for _, p := range pts {
			if len(sample) < k {
				sample = append(sample, p)
			} else if j := rng.Int64N(seen + 1); j < int64(k) {
				sample[j] = p
			}
			seen++
		}
	}
}

// Count returns the number of points in the file at path, derived from its
// size.
func Count(fsys fsutil.FileSystem, path string) (int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size()%PointSize != 0 {
		return 0, fmt.Errorf("%s: %w: size %d is not a multiple of %d", path, ErrFormat, info.Size(), PointSize)
	}
	return info.Size() / PointSize, nil
}

// ReadFile loads the whole cloud at path.
func ReadFile(fsys fsutil.FileSystem, path string) (geo.Cloud, error) {
	if _, err := Count(fsys, path); err != nil {
		return nil, err
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cloud, err := NewReader(f, DefaultChunk).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return cloud, nil
}

// WriteFile writes cloud to path atomically.
func WriteFile(fsys fsutil.FileSystem, path string, cloud geo.Cloud) error {
	fw, err := CreateFile(fsys, path)
	if err != nil {
		return err
	}
	if err := fw.Write(cloud); err != nil {
		fw.Abort()
		return err
	}
	return fw.Commit()
}
