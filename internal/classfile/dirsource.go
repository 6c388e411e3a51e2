package classfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// ClasspathSource is a ClassSource backed by an ordered list of
// directories on disk, mirroring java.lang.ClassLoader's own classpath
// search order: each entry is tried in turn for
// "<dir>/<binaryName>.class", and the first hit wins. Decoded classes are
// cached so a second FindOrLoadClass for the same name never re-reads the
// file.
type ClasspathSource struct {
	dirs  []string
	cache map[string]*VerifiedClass
}

func NewClasspathSource(dirs []string) *ClasspathSource {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	return &ClasspathSource{dirs: dirs, cache: make(map[string]*VerifiedClass)}
}

func (s *ClasspathSource) Load(binaryName string) (*VerifiedClass, error) {
	if vc, ok := s.cache[binaryName]; ok {
		return vc, nil
	}
	rel := filepath.FromSlash(binaryName) + ".class"
	var lastErr error
	for _, dir := range s.dirs {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			lastErr = err
			continue
		}
		vc, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", binaryName, err)
		}
		s.cache[binaryName] = vc
		return vc, nil
	}
	return nil, fmt.Errorf("%s: class not found on classpath (%w)", binaryName, lastErr)
}
