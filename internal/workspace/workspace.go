// Package workspace owns the per-run working directory. A Workspace value is
// the run context handed to every stage; nothing in seqrun changes the
// process working directory.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/seqrun/internal/fsutil"
)

// StateDir holds seqrun's own bookkeeping inside a work directory.
const StateDir = ".seqrun"

var (
	// ErrMissingWorkspace reports an absent or unusable work directory.
	ErrMissingWorkspace = errors.New("workspace: work directory missing")
	// ErrMissingJobScript reports a work directory without the job script.
	ErrMissingJobScript = errors.New("workspace: job script missing")
)

// Layout names the files a run touches inside the work directory.
type Layout struct {
	JobScript    string
	InputFile    string
	RestartFile  string
	ChunkPattern string
}

// Workspace is the run context: where the run lives and how to name things
// inside it.
type Workspace struct {
	Dir    string
	RunID  string
	Layout Layout
}

// Open validates an existing work directory and assigns a fresh run id.
func Open(dir string, layout Layout) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrMissingWorkspace, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingWorkspace, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrMissingWorkspace, abs)
	}
	return &Workspace{Dir: abs, RunID: uuid.NewString(), Layout: layout}, nil
}

// Check ensures the job script is present before anything is submitted.
func (w *Workspace) Check() error {
	path := w.JobScriptPath()
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingJobScript, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrMissingJobScript, path)
	}
	return nil
}

// Path joins elem onto the work directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// JobScriptPath returns the job script inside the work directory.
func (w *Workspace) JobScriptPath() string {
	return w.Path(w.Layout.JobScript)
}

// InputPath returns the parameter file.
func (w *Workspace) InputPath() string {
	return w.Path(w.Layout.InputFile)
}

// RestartPath returns the restart file produced by extraction.
func (w *Workspace) RestartPath() string {
	return w.Path(w.Layout.RestartFile)
}

// ChunkPath returns the chunk file holding index idx.
func (w *Workspace) ChunkPath(idx int) string {
	return w.Path(fmt.Sprintf(w.Layout.ChunkPattern, idx))
}

// BackupDir returns the checkpoint directory for a 1-indexed step.
func (w *Workspace) BackupDir(step int) string {
	return w.Path(fmt.Sprintf("step%d_backup", step))
}

// StatePath returns the persisted run state file.
func (w *Workspace) StatePath() string {
	return w.Path(StateDir, "state.json")
}

// CreateOptions controls how a new work directory is materialized.
type CreateOptions struct {
	SourceDir string
	// Parent is where the new directory is created; empty means the parent of
	// SourceDir.
	Parent string
	Prefix string
	// Ignore holds filepath.Match patterns applied to base names.
	Ignore []string
	// Keep lists base names copied even when an ignore pattern matches.
	Keep []string
	Now  time.Time
}

// Create copies SourceDir into a new timestamped directory and returns the
// workspace rooted there.
func Create(opts CreateOptions, layout Layout) (*Workspace, error) {
	src, err := filepath.Abs(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve source %s: %w", opts.SourceDir, err)
	}
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: source directory not found: %s", ErrMissingWorkspace, src)
	}
	parent := opts.Parent
	if parent == "" {
		parent = filepath.Dir(src)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "seq_run"
	}
	dst := filepath.Join(parent, fmt.Sprintf("%s_%s", prefix, now.Format("20060102_150405")))
	if _, err := os.Stat(dst); err == nil {
		return nil, fmt.Errorf("workspace: %s already exists", dst)
	}
	if err := copyTree(src, dst, opts.Ignore, opts.Keep); err != nil {
		_ = os.RemoveAll(dst)
		return nil, err
	}
	return Open(dst, layout)
}

func copyTree(src, dst string, ignore, keep []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel != "." && skip(d.Name(), ignore, keep) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			if err := fsutil.CopyFile(path, target); err != nil {
				return fmt.Errorf("workspace: copy %s: %w", rel, err)
			}
		}
		return nil
	})
}

func skip(name string, ignore, keep []string) bool {
	for _, k := range keep {
		if name == k {
			return false
		}
	}
	for _, pattern := range ignore {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
