package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource loads config from a YAML file on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource that reads from the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadInto decodes the file over cfg, so fields absent from the file keep
// their current values. Unknown keys are rejected.
func (s *FileSource) LoadInto(cfg *Config) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("file source: read %s: %w", s.path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("file source: parse %s: %w", s.path, err)
	}
	return nil
}

// Path returns the filesystem path this source reads from.
func (s *FileSource) Path() string { return s.path }
