package rulepack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every .yaml/.yml file in dir and compiles the detectors of
// enabled packs. A pack that fails to parse or compile contributes no
// detectors; the failure is reported in its PackInfo. A missing directory
// yields no packs and no error.
func LoadDir(dir string) ([]*Detector, []PackInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var detectors []*Detector
	var infos []PackInfo
	seen := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		// Check if pack is disabled (prefixed with underscore)
		baseName := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		enabled := !strings.HasPrefix(baseName, "_")

		pack, err := LoadFile(path)
		if err != nil {
			infos = append(infos, PackInfo{
				Name:    baseName,
				Enabled: enabled,
				Path:    path,
				Error:   err.Error(),
			})
			continue
		}

		info := PackInfo{
			Name:          pack.Name,
			Description:   pack.Description,
			Version:       pack.Version,
			Author:        pack.Author,
			Enabled:       enabled,
			Path:          path,
			DetectorCount: len(pack.Detectors),
		}
		if info.Name == "" {
			info.Name = strings.TrimPrefix(baseName, "_")
		}

		if enabled {
			compiled, err := compilePack(pack, seen, path)
			if err != nil {
				info.Error = err.Error()
			} else {
				detectors = append(detectors, compiled...)
			}
		}
		infos = append(infos, info)
	}

	return detectors, infos, nil
}

// LoadFile parses one pack file without compiling it.
func LoadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse pack %s: %w", path, err)
	}

	return &pack, nil
}

// compilePack compiles all definitions or none. seen maps keys already taken
// by earlier packs to the file that defined them.
func compilePack(pack *Pack, seen map[string]string, path string) ([]*Detector, error) {
	out := make([]*Detector, 0, len(pack.Detectors))
	local := make(map[string]bool)
	for _, def := range pack.Detectors {
		if prev, ok := seen[def.Key]; ok || local[def.Key] {
			if prev == "" {
				prev = path
			}
			return nil, fmt.Errorf("%w: key %q already defined in %s", ErrInvalidDefinition, def.Key, prev)
		}
		d, err := Compile(def)
		if err != nil {
			return nil, err
		}
		local[def.Key] = true
		out = append(out, d)
	}
	for k := range local {
		seen[k] = path
	}
	return out, nil
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
