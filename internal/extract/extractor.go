package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/kingrea/seqrun/internal/fsutil"
	"github.com/kingrea/seqrun/internal/workspace"
)

// DefaultChunks is the number of per-rank files a job writes.
const DefaultChunks = 20

// Options configures an Extractor.
type Options struct {
	NumChunks int
	// Lenient logs coverage gaps and duplicates instead of failing; gaps are
	// written as zero vectors.
	Lenient bool
}

// Result describes one extraction.
type Result struct {
	Dims       Dims
	Points     int
	Path       string
	Skipped    int
	Duplicates int
	Missing    int
}

// Extractor merges chunk files into the restart file of a workspace.
type Extractor struct {
	ws     *workspace.Workspace
	opts   Options
	logger *zap.Logger
}

// New returns an extractor for ws.
func New(ws *workspace.Workspace, opts Options, logger *zap.Logger) *Extractor {
	if opts.NumChunks <= 0 {
		opts.NumChunks = DefaultChunks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{ws: ws, opts: opts, logger: logger}
}

// ChunkPaths lists the chunk files expected for targetStep in rank order.
func (e *Extractor) ChunkPaths(targetStep int) []string {
	paths := make([]string, e.opts.NumChunks)
	for rank := range paths {
		paths[rank] = e.ws.ChunkPath(targetStep + rank)
	}
	return paths
}

// Extract reads every chunk for targetStep and rewrites the restart file.
// On error the previous restart file is left as it was.
func (e *Extractor) Extract(ctx context.Context, targetStep int) (Result, error) {
	log := e.logger.With(zap.Int("target_step", targetStep))
	log.Info("extracting state", zap.Int("chunks", e.opts.NumChunks))

	var (
		grid *Grid
		res  Result
	)
	for rank, path := range e.ChunkPaths(targetStep) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		skipped, err := e.readChunk(path, &grid)
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d: %w", rank, err)
		}
		res.Skipped += skipped
	}

	res.Dims = grid.Dims
	res.Points = grid.Dims.Points()
	res.Missing, res.Duplicates = grid.Coverage()
	if res.Missing > 0 || res.Duplicates > 0 {
		if !e.opts.Lenient {
			return Result{}, fmt.Errorf("%w: %d of %d points missing, %d duplicated",
				ErrIncompleteCoverage, res.Missing, res.Points, res.Duplicates)
		}
		log.Warn("grid coverage incomplete, writing zeros for gaps",
			zap.Int("missing", res.Missing), zap.Int("duplicates", res.Duplicates))
	}
	if res.Skipped > 0 {
		log.Debug("skipped short lines", zap.Int("lines", res.Skipped))
	}

	res.Path = e.ws.RestartPath()
	perm := fsutil.FileMode(res.Path, 0o644)
	if err := fsutil.WriteAtomic(res.Path, perm, func(w io.Writer) error {
		return WriteRestart(w, grid)
	}); err != nil {
		return Result{}, fmt.Errorf("write restart file: %w", err)
	}
	log.Info("restart file written", zap.String("path", res.Path),
		zap.Stringer("dims", res.Dims), zap.Int("points", res.Points))
	return res, nil
}

// readChunk parses one chunk into *grid, allocating it from the first header.
func (e *Extractor) readChunk(path string, grid **Grid) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrMissingChunk, path)
		}
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		return 0, fmt.Errorf("%w: %s is empty", ErrMalformedHeader, path)
	}
	dims, err := ParseHeader(sc.Text())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if *grid == nil {
		*grid = NewGrid(dims)
	} else if (*grid).Dims != dims {
		return 0, fmt.Errorf("%w: %s declares %s, expected %s", ErrHeaderMismatch, path, dims, (*grid).Dims)
	}

	line := 1
	for sc.Scan() {
		line++
		rec, ok, err := ParseRecord(sc.Text())
		if err != nil {
			return skipped, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if !ok {
			skipped++
			continue
		}
		if err := (*grid).Set(rec); err != nil {
			return skipped, fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return skipped, fmt.Errorf("read %s: %w", path, err)
	}
	return skipped, nil
}

// WriteRestart writes the header then one line per point, i outermost and k
// innermost, with 1-indexed coordinates.
func WriteRestart(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	d := g.Dims
	if _, err := fmt.Fprintf(bw, "%d %d %d\n", d.NX, d.NY, d.NZ); err != nil {
		return err
	}
	buf := make([]byte, 0, 96)
	idx := 0
	for i := 1; i <= d.NX; i++ {
		for j := 1; j <= d.NY; j++ {
			for k := 1; k <= d.NZ; k++ {
				buf = appendPoint(buf[:0], i, j, k, g.PX[idx], g.PY[idx], g.PZ[idx])
				if _, err := bw.Write(buf); err != nil {
					return err
				}
				idx++
			}
		}
	}
	return bw.Flush()
}

func appendPoint(buf []byte, i, j, k int, px, py, pz float64) []byte {
	buf = strconv.AppendInt(buf, int64(i), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(j), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(k), 10)
	for _, v := range [3]float64{px, py, pz} {
		buf = append(buf, ' ')
		buf = appendSci(buf, v)
	}
	return append(buf, '\n')
}

// appendSci formats v like C's "%.5e", which always uses at least two
// exponent digits. strconv does the same for 'e'.
func appendSci(buf []byte, v float64) []byte {
	return strconv.AppendFloat(buf, v, 'e', 5, 64)
}
