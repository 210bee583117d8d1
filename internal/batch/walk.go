package batch

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Files yields the regular files under root. A root that is itself a file is
// yielded as is. Without recursive only the direct entries of root are
// listed. Directories in skip, and everything under them, are left out.
// Enumeration errors are yielded with the offending path and the walk
// continues. The sequence can be ranged over more than once.
func Files(root string, recursive bool, skip ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, err := os.Stat(root)
		if err != nil {
			yield(root, err)
			return
		}
		if !info.IsDir() {
			if info.Mode().IsRegular() {
				yield(root, nil)
			}
			return
		}

		excluded := newSkipSet(skip)
		if excluded.has(root) {
			log.WithField("path", root).Debugln("Root is excluded from the walk")
			return
		}

		if !recursive {
			entries, err := os.ReadDir(root)
			if err != nil {
				yield(root, err)
				return
			}
			for _, entry := range entries {
				path := filepath.Join(root, entry.Name())
				if !isRegular(path, entry) {
					continue
				}
				if !yield(path, nil) {
					return
				}
			}
			return
		}

		// WalkDir does not descend into a symlinked root. The trailing
		// separator makes it resolve the link while keeping the caller's path.
		walkRoot := root
		if li, err := os.Lstat(root); err == nil && li.Mode()&fs.ModeSymlink != 0 {
			walkRoot = root + string(os.PathSeparator)
		}

		filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(path, err) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != walkRoot && excluded.has(path) {
					log.WithField("path", path).Debugln("Skipping excluded directory")
					return filepath.SkipDir
				}
				return nil
			}
			if !isRegular(path, d) {
				return nil
			}
			if !yield(path, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// isRegular follows symlinks. Devices, sockets and pipes are skipped since
// reading them can block.
func isRegular(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		log.WithField("path", path).Debugf("Skipping dangling link: %s", err)
		return false
	}
	return info.Mode().IsRegular()
}

// skipSet matches directories by absolute path, or by identity when they
// already existed when the set was built.
type skipSet struct {
	abs   []string
	infos []os.FileInfo
}

func newSkipSet(dirs []string) skipSet {
	var s skipSet
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			s.abs = append(s.abs, abs)
		}
		if info, err := os.Stat(dir); err == nil {
			s.infos = append(s.infos, info)
		}
	}
	return s
}

func (s skipSet) has(path string) bool {
	if len(s.abs) == 0 && len(s.infos) == 0 {
		return false
	}
	if abs, err := filepath.Abs(path); err == nil {
		for _, a := range s.abs {
			if a == abs {
				return true
			}
		}
	}
	if len(s.infos) == 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	for _, other := range s.infos {
		if os.SameFile(info, other) {
			return true
		}
	}
	return false
}
