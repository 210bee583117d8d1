// Package quarantine moves detected files into an isolated directory.
package quarantine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/proferosec/moo-tools/internal/digest"
)

// DefaultRoot is used when no quarantine directory is configured.
const DefaultRoot = "/var/quarantine/moo"

// maxProbe bounds the name_N search so a broken filesystem cannot spin forever.
const maxProbe = 1 << 20

var (
	ErrCollisionExhausted = errors.New("no free quarantine name")
	ErrNoIndex            = errors.New("quarantine index not enabled")
	ErrRestoreConflict    = errors.New("original path is occupied")
	ErrNotFound           = errors.New("no such quarantine record")
)

// Manager relocates files into root. Moves are serialized so two concurrent
// callers never pick the same name.
type Manager struct {
	root  string
	index *Index
	mu    sync.Mutex
}

type Option func(*Manager)

// WithIndex records every move in idx.
func WithIndex(idx *Index) Option {
	return func(m *Manager) {
		m.index = idx
	}
}

func NewManager(root string, opts ...Option) *Manager {
	if root == "" {
		root = DefaultRoot
	}
	m := &Manager{root: root}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Root() string {
	return m.root
}

// Quarantine moves path into the root and returns the new location. A
// symlink is resolved and its target is moved, leaving the link dangling. On
// error the source is left where it was.
func (m *Manager) Quarantine(path string) (string, error) {
	if li, err := os.Lstat(path); err == nil && li.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", path, err)
		}
		log.WithField("path", path).Debugf("Quarantining link target %s", target)
		path = target
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	if err := os.MkdirAll(m.root, 0700); err != nil {
		return "", fmt.Errorf("create quarantine root: %w", err)
	}

	var sums digest.Sums
	if m.index != nil {
		if sums, err = digest.File(path); err != nil {
			log.WithField("path", path).Warnf("Could not hash file before quarantine: %s", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.reserve(filepath.Base(path))
	if err != nil {
		return "", err
	}

	// Rename replaces the empty reservation in one step.
	if err := os.Rename(path, target); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("move %s: %w", path, err)
	}

	if m.index != nil {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		rec := Record{
			Name:            filepath.Base(target),
			OriginalPath:    abs,
			QuarantinedPath: target,
			Digest:          sums,
			QuarantinedAt:   time.Now().UTC(),
		}
		if err := m.index.Put(rec); err != nil {
			log.WithField("path", target).Errorf("Failed to record quarantine entry: %s", err)
		}
	}

	log.Infof("Quarantined: %s -> %s", path, target)
	return target, nil
}

// reserve claims the first free name among base, name_1.ext, name_2.ext, ...
// with an exclusive create.
func (m *Manager) reserve(base string) (string, error) {
	name, ext := splitExt(base)
	for i := 0; i < maxProbe; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", name, i, ext)
		}
		target := filepath.Join(m.root, candidate)

		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			f.Close()
			return target, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("reserve %s: %w", target, err)
		}
	}
	return "", fmt.Errorf("%s: %w", base, ErrCollisionExhausted)
}

// List returns the manifest entries.
func (m *Manager) List() ([]Record, error) {
	if m.index == nil {
		return nil, ErrNoIndex
	}
	return m.index.List()
}

// Restore moves a quarantined file back to where it came from. It refuses to
// overwrite anything at the original path.
func (m *Manager) Restore(name string) (string, error) {
	if m.index == nil {
		return "", ErrNoIndex
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, found, err := m.index.Get(name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	if _, err := os.Lstat(rec.OriginalPath); err == nil {
		return "", fmt.Errorf("%s: %w", rec.OriginalPath, ErrRestoreConflict)
	}
	if err := os.MkdirAll(filepath.Dir(rec.OriginalPath), 0755); err != nil {
		return "", err
	}
	if err := os.Rename(rec.QuarantinedPath, rec.OriginalPath); err != nil {
		return "", fmt.Errorf("restore %s: %w", name, err)
	}
	if err := m.index.Delete(name); err != nil {
		log.WithField("name", name).Errorf("Restored but failed to drop record: %s", err)
	}

	log.Infof("Restored: %s -> %s", rec.QuarantinedPath, rec.OriginalPath)
	return rec.OriginalPath, nil
}

// splitExt splits the last extension off base. Leading dots belong to the
// name, so ".bashrc" has no extension.
func splitExt(base string) (string, string) {
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 {
		return base, ""
	}
	i += len(base) - len(trimmed)
	return base[:i], base[i:]
}
