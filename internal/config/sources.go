package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/hazard-alert-service/internal/source"
)

type sourcesFile struct {
	Sources []source.Spec `yaml:"sources"`
}

// LoadSources reads a YAML source catalog. Unknown keys and unknown source
// types are rejected so a typo cannot silently disable a feed.
func LoadSources(path string) ([]source.Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(b)
}

// ParseSources decodes and validates a YAML source catalog.
func ParseSources(b []byte) ([]source.Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f sourcesFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(f.Sources) == 0 {
		return nil, errors.New("sources file defines no sources")
	}
	for _, s := range f.Sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Sources, nil
}
