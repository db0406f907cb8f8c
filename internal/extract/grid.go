// Package extract rebuilds the global polarization field from the per-rank
// chunk files a finished job leaves behind and writes it as the restart file
// for the next step.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMissingChunk reports an expected chunk file that does not exist.
	ErrMissingChunk = errors.New("extract: chunk file missing")
	// ErrMalformedHeader reports a chunk whose first line is not "nx ny nz".
	ErrMalformedHeader = errors.New("extract: malformed header")
	// ErrHeaderMismatch reports chunks that disagree on the grid dimensions.
	ErrHeaderMismatch = errors.New("extract: header mismatch between chunks")
	// ErrMalformedRecord reports a data line that cannot be placed in the grid.
	ErrMalformedRecord = errors.New("extract: malformed record")
	// ErrIncompleteCoverage reports grid points assigned zero or several times.
	ErrIncompleteCoverage = errors.New("extract: incomplete grid coverage")
)

// MaxPoints caps nx*ny*nz so a corrupt header cannot drive the allocation.
const MaxPoints = 1 << 26

// Dims are the grid dimensions.
type Dims struct {
	NX, NY, NZ int
}

// Points returns NX*NY*NZ.
func (d Dims) Points() int { return d.NX * d.NY * d.NZ }

func (d Dims) String() string { return fmt.Sprintf("%d %d %d", d.NX, d.NY, d.NZ) }

// Record is one data line: 1-indexed coordinates and the vector there.
type Record struct {
	I, J, K    int
	PX, PY, PZ float64
}

// ParseHeader reads the "nx ny nz" line. Extra tokens are ignored.
func ParseHeader(line string) (Dims, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Dims{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	var vals [3]int
	points := 1
	for i := range vals {
		v, err := strconv.Atoi(fields[i])
		if err != nil || v <= 0 {
			return Dims{}, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		if v > MaxPoints/points {
			return Dims{}, fmt.Errorf("%w: %q exceeds %d points", ErrMalformedHeader, line, MaxPoints)
		}
		points *= v
		vals[i] = v
	}
	return Dims{NX: vals[0], NY: vals[1], NZ: vals[2]}, nil
}

// ParseRecord reads "i j k px py pz". ok is false for lines with fewer than
// six tokens, which callers skip.
func ParseRecord(line string) (rec Record, ok bool, err error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return Record{}, false, nil
	}
	var idx [3]int
	for n := range idx {
		if idx[n], err = strconv.Atoi(fields[n]); err != nil {
			return Record{}, true, fmt.Errorf("%w: %q: %v", ErrMalformedRecord, line, err)
		}
	}
	var vec [3]float64
	for n := range vec {
		if vec[n], err = strconv.ParseFloat(fields[3+n], 64); err != nil {
			return Record{}, true, fmt.Errorf("%w: %q: %v", ErrMalformedRecord, line, err)
		}
	}
	return Record{I: idx[0], J: idx[1], K: idx[2], PX: vec[0], PY: vec[1], PZ: vec[2]}, true, nil
}

// Grid holds the three components in flat arrays indexed ((i*NY)+j)*NZ+k
// with zero-based coordinates. Seen counts assignments per point.
type Grid struct {
	Dims       Dims
	PX, PY, PZ []float64
	Seen       []uint16
}

// NewGrid allocates a zeroed grid.
func NewGrid(d Dims) *Grid {
	n := d.Points()
	return &Grid{
		Dims: d,
		PX:   make([]float64, n),
		PY:   make([]float64, n),
		PZ:   make([]float64, n),
		Seen: make([]uint16, n),
	}
}

// Index maps 1-indexed coordinates to the flat offset.
func (g *Grid) Index(i, j, k int) (int, bool) {
	d := g.Dims
	if i < 1 || i > d.NX || j < 1 || j > d.NY || k < 1 || k > d.NZ {
		return 0, false
	}
	return ((i-1)*d.NY+(j-1))*d.NZ + (k - 1), true
}

// Set stores rec. Later records for the same point overwrite earlier ones.
func (g *Grid) Set(rec Record) error {
	idx, ok := g.Index(rec.I, rec.J, rec.K)
	if !ok {
		return fmt.Errorf("%w: point (%d,%d,%d) outside grid %s", ErrMalformedRecord, rec.I, rec.J, rec.K, g.Dims)
	}
	g.PX[idx], g.PY[idx], g.PZ[idx] = rec.PX, rec.PY, rec.PZ
	if g.Seen[idx] < ^uint16(0) {
		g.Seen[idx]++
	}
	return nil
}

// Coverage counts unassigned points and points assigned more than once.
func (g *Grid) Coverage() (missing, duplicates int) {
	for _, n := range g.Seen {
		switch {
		case n == 0:
			missing++
		case n > 1:
			duplicates++
		}
	}
	return missing, duplicates
}
