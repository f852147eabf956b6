package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/nucleus/internal/core/domain"
)

// procfile is the subset of a Procfile nucleusctl reads.
type procfile struct {
	Web string `yaml:"web"`
}

// LoadSpec reads a service spec from a YAML file.
//
// A source artifact's directory is resolved relative to the spec file. When
// the spec has no start command, the web process of a Procfile in the source
// directory is used.
func LoadSpec(path string) (domain.ServiceSpec, error) {
	var spec domain.ServiceSpec

	data, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("parse %s: %w", path, err)
	}

	src := spec.Artifact.Source
	if spec.Artifact.Kind != domain.ArtifactSource || src == nil {
		return spec, nil
	}

	dir := src.Directory
	if dir == "" {
		dir = "."
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}
	if src.Directory, err = filepath.Abs(dir); err != nil {
		return spec, err
	}

	if spec.StartCommand == "" {
		web, err := readProcfile(src.Directory)
		if err != nil {
			return spec, err
		}
		spec.StartCommand = web
	}
	return spec, nil
}

// readProcfile returns the web command of dir/Procfile, or "" when there is
// no Procfile.
func readProcfile(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "Procfile"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var p procfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("parse Procfile: %w", err)
	}
	return strings.TrimSpace(p.Web), nil
}
