// Package checkpoint keeps a per-step copy of the parameter and restart files
// so a step can be rerun or inspected after later steps overwrite them.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/seqrun/internal/fsutil"
	"github.com/kingrea/seqrun/internal/workspace"
)

// ManifestFile is written into every backup directory.
const ManifestFile = "manifest.yaml"

// Manifest records what a backup directory holds.
type Manifest struct {
	RunID     string    `yaml:"run_id,omitempty"`
	Step      int       `yaml:"step"`
	Name      string    `yaml:"name"`
	Files     []string  `yaml:"files"`
	Skipped   []string  `yaml:"skipped,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Manager writes step backups inside a workspace.
type Manager struct {
	ws     *workspace.Workspace
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the manifest timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// New returns a manager for ws.
func New(ws *workspace.Workspace, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{ws: ws, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backup copies the parameter and restart files into step<N>_backup and
// returns the directory. Missing sources are skipped with a warning; prior
// copies are overwritten.
func (m *Manager) Backup(stepNum int, name string) (string, error) {
	dir := m.ws.BackupDir(stepNum)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir %s: %w", dir, err)
	}
	manifest := Manifest{
		RunID:     m.ws.RunID,
		Step:      stepNum,
		Name:      name,
		Files:     []string{},
		CreatedAt: m.now().UTC(),
	}
	for _, src := range []string{m.ws.InputPath(), m.ws.RestartPath()} {
		base := filepath.Base(src)
		err := fsutil.CopyFile(src, filepath.Join(dir, base))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			m.logger.Warn("backup source missing, skipping", zap.String("file", src))
			manifest.Skipped = append(manifest.Skipped, base)
		case err != nil:
			return dir, fmt.Errorf("backup %s: %w", base, err)
		default:
			manifest.Files = append(manifest.Files, base)
		}
	}
	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return dir, fmt.Errorf("encode manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return dir, fmt.Errorf("write manifest: %w", err)
	}
	m.logger.Info(fmt.Sprintf("backed up files to %s/", dir), zap.Int("step", stepNum))
	return dir, nil
}

// ReadManifest loads the manifest of a backup directory.
func ReadManifest(dir string) (Manifest, error) {
	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return manifest, err
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("decode manifest %s: %w", dir, err)
	}
	return manifest, nil
}
