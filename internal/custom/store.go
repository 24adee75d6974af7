package custom

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gzhole/accessguard/internal/detector"
)

// ScriptExt is the file extension for saved detector scripts.
const ScriptExt = ".tengo"

// Store keeps the custom detectors created during a session.
type Store struct {
	mu        sync.RWMutex
	detectors map[detector.Key]*Detector
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{detectors: make(map[detector.Key]*Detector)}
}

// Add stores d under its key, replacing any previous entry.
func (s *Store) Add(d *Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectors[d.Key()] = d
}

// Get returns the detector stored under key.
func (s *Store) Get(key detector.Key) (*Detector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.detectors[key]
	return d, ok
}

// List returns all detectors, oldest first.
func (s *Store) List() []*Detector {
	s.mu.RLock()
	out := make([]*Detector, 0, len(s.detectors))
	for _, d := range s.detectors {
		out = append(out, d)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].key < out[j].key
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key detector.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.detectors[key]; !ok {
		return false
	}
	delete(s.detectors, key)
	return true
}

// Clear removes every detector.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectors = make(map[detector.Key]*Detector)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// SaveScript writes d's source to dir with a name/description header and
// returns the file path.
func SaveScript(dir string, d *Detector) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}

	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(d.Name()), "-"), "-")
	if slug == "" {
		slug = "custom"
	}
	path := filepath.Join(dir, slug+ScriptExt)

	var sb strings.Builder
	fmt.Fprintf(&sb, "// name: %s\n", oneLine(d.Name()))
	fmt.Fprintf(&sb, "// description: %s\n", oneLine(d.Description()))
	sb.WriteString(d.Source())
	sb.WriteString("\n")

	if err := os.WriteFile(path, []byte(sb.String()), 0600); err != nil {
		return "", fmt.Errorf("failed to write script: %w", err)
	}
	return path, nil
}

// LoadScript reads and compiles a script file. Header comments supply the
// name and description; the file name is used when the name is absent.
func LoadScript(path string, opts ...Option) (*Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	name, description := readHeader(string(data))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	d, err := Compile(name, description, string(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func readHeader(src string) (name, description string) {
	scanner := bufio.NewScanner(strings.NewReader(src))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "//") {
			break
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "//"))
		if v, ok := strings.CutPrefix(body, "name:"); ok {
			name = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(body, "description:"); ok {
			description = strings.TrimSpace(v)
		}
	}
	return name, description
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
