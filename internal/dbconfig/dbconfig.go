// Package dbconfig loads the Options spec section 6 recognizes by "open"
// from a YAML file, adapted from the teacher's internal/config/config.go
// (gopkg.in/yaml.v2). It is a thin file-to-struct loader only: defaulting
// and validation stay in the revdoc package that actually opens a
// Database, matching the teacher's own split between config parsing and
// config application.
package dbconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// VersioningScheme names which of the two revisioning schemes a database
// uses, as read from YAML (spec section 6, "VersioningScheme").
type VersioningScheme string

const (
	SchemeTreeV2 VersioningScheme = "tree-v2"
	SchemeTreeV3 VersioningScheme = "tree-v3"
	SchemeVector VersioningScheme = "vector"
)

// File is the on-disk shape of a revdoc YAML config file, mirroring the
// Options table in spec section 6.
type File struct {
	Paths                  []string         `yaml:"paths"`
	MinimumFreeGB          uint             `yaml:"minimumFreeGB"`
	ReadOnly               bool             `yaml:"readOnly"`
	NoUpgrade              bool             `yaml:"noUpgrade"`
	Create                 bool             `yaml:"create"`
	VersioningScheme       VersioningScheme `yaml:"versioningScheme"`
	MaxRevTreeDepth        int              `yaml:"maxRevTreeDepth"`
	GenerateOldStyleRevIDs bool             `yaml:"generateOldStyleRevIDs"`
}

// Load reads and parses a File from path.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("dbconfig: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("dbconfig: parse %s: %w", path, err)
	}
	return f, nil
}
