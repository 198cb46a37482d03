package pointio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/geo"
)

// WriteDistanceQueries writes one "lat,lon,radius" line per query with
// geo.CoordDecimals decimals for coordinates and geo.RadiusDecimals for the
// radius.
func WriteDistanceQueries(w io.Writer, qs []geo.DistanceQuery) error {
	bw := bufio.NewWriter(w)
	for i, q := range qs {
		if _, err := fmt.Fprintf(bw, "%.*f,%.*f,%.*f\n",
			geo.CoordDecimals, q.Point.Lat, geo.CoordDecimals, q.Point.Lon, geo.RadiusDecimals, q.Radius); err != nil {
			return fmt.Errorf("write distance query %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// WriteRangeQueries writes one "lat_a,lon_a,lat_b,lon_b" line per query.
func WriteRangeQueries(w io.Writer, qs []geo.RangeQuery) error {
	bw := bufio.NewWriter(w)
	for i, q := range qs {
		if _, err := fmt.Fprintf(bw, "%.*f,%.*f,%.*f,%.*f\n",
			geo.CoordDecimals, q.A.Lat, geo.CoordDecimals, q.A.Lon, geo.CoordDecimals, q.B.Lat, geo.CoordDecimals, q.B.Lon); err != nil {
			return fmt.Errorf("write range query %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadDistanceQueries parses a distance query file.
func ReadDistanceQueries(r io.Reader) ([]geo.DistanceQuery, error) {
	var out []geo.DistanceQuery
	err := readRecords(r, 3, func(v []float64) {
		out = append(out, geo.DistanceQuery{Point: geo.LatLon{Lat: v[0], Lon: v[1]}, Radius: v[2]})
	})
	return out, err
}

// ReadRangeQueries parses a range query file.
func ReadRangeQueries(r io.Reader) ([]geo.RangeQuery, error) {
	var out []geo.RangeQuery
	err := readRecords(r, 4, func(v []float64) {
		out = append(out, geo.RangeQuery{
			A: geo.LatLon{Lat: v[0], Lon: v[1]},
			B: geo.LatLon{Lat: v[2], Lon: v[3]},
		})
	})
	return out, err
}

func readRecords(r io.Reader, fields int, emit func([]float64)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = fields
	cr.ReuseRecord = true
	vals := make([]float64, fields)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		for i, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("%w: line %d field %d: %v", ErrFormat, line, i+1, err)
			}
			vals[i] = v
		}
		emit(vals)
	}
}

// WriteDistanceQueryFile writes qs to path atomically.
func WriteDistanceQueryFile(fsys fsutil.FileSystem, path string, qs []geo.DistanceQuery) error {
	return writeTextFile(fsys, path, func(w io.Writer) error { return WriteDistanceQueries(w, qs) })
}

// WriteRangeQueryFile writes qs to path atomically.
func WriteRangeQueryFile(fsys fsutil.FileSystem, path string, qs []geo.RangeQuery) error {
	return writeTextFile(fsys, path, func(w io.Writer) error { return WriteRangeQueries(w, qs) })
}

// ReadDistanceQueryFile reads the distance queries at path.
func ReadDistanceQueryFile(fsys fsutil.FileSystem, path string) ([]geo.DistanceQuery, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	qs, err := ReadDistanceQueries(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return qs, nil
}

// ReadRangeQueryFile reads the range queries at path.
func ReadRangeQueryFile(fsys fsutil.FileSystem, path string) ([]geo.RangeQuery, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	qs, err := ReadRangeQueries(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return qs, nil
}

func writeTextFile(fsys fsutil.FileSystem, path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := fsys.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
