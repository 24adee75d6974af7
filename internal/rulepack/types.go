// Package rulepack loads declarative detectors from YAML rule packs.
//
// A pack is a YAML file holding one or more detector definitions. Each
// definition is a list of conditions over record fields combined with "any"
// or "all". Packs live in ~/.accessguard/packs/; a file whose name starts
// with "_" is disabled.
package rulepack

import "github.com/gzhole/accessguard/internal/detector"

// Pack is the on-disk shape of a rule pack file.
type Pack struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Version     string       `yaml:"version"`
	Author      string       `yaml:"author"`
	Detectors   []Definition `yaml:"detectors"`
}

// Definition describes one detector.
type Definition struct {
	Key         string            `yaml:"key"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Severity    detector.Severity `yaml:"severity,omitempty"`
	Reason      string            `yaml:"reason,omitempty"`
	Match       string            `yaml:"match,omitempty"` // any | all (default all)
	Conditions  []Condition       `yaml:"conditions"`
}

// Condition tests one record field. Every operator set on a condition must
// hold for the condition to hold; Negate inverts the outcome.
type Condition struct {
	Field    string       `yaml:"field"`
	Exact    string       `yaml:"exact,omitempty"`
	In       []string     `yaml:"in,omitempty"`
	Prefix   StringOrList `yaml:"prefix,omitempty"`
	Contains StringOrList `yaml:"contains,omitempty"` // case-insensitive
	Regex    string       `yaml:"regex,omitempty"`    // case-insensitive
	Decode   bool         `yaml:"decode,omitempty"`   // percent-decode the value first
	Negate   bool         `yaml:"negate,omitempty"`
}

// StringOrList allows YAML fields to accept either a single string or a list.
// "/admin" → ["/admin"], ["/admin", "/manager"] → ["/admin", "/manager"]
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// PackInfo is a summary of a pack for listing.
type PackInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Version       string `json:"version"`
	Author        string `json:"author"`
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	DetectorCount int    `json:"detector_count"`
	Error         string `json:"error,omitempty"`
}
