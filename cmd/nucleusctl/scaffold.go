package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/nucleus/internal/core/domain"
)

// =============================================================================
// Init
// =============================================================================

// runtimeCommands are the build and start commands a new spec starts with.
var runtimeCommands = map[domain.Runtime][2]string{
	domain.RuntimeNodeJS: {"npm ci", "npm start"},
	domain.RuntimePython: {"pip install -r requirements.txt", "python main.py"},
	domain.RuntimeGo:     {"go build -o /usr/local/bin/app .", "app"},
}

var nameInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)

// ScaffoldOptions describe a new spec file.
type ScaffoldOptions struct {
	Name    string
	Runtime domain.Runtime
	Image   string
	Private bool
}

// ScaffoldSpec builds the starting spec for the project in dir. The service
// name defaults to the directory name. A source spec builds dir itself.
func ScaffoldSpec(dir string, opts ScaffoldOptions) (domain.ServiceSpec, error) {
	name := opts.Name
	if name == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return domain.ServiceSpec{}, err
		}
		name = defaultServiceName(filepath.Base(abs))
	}
	if err := domain.ValidateServiceName(name); err != nil {
		return domain.ServiceSpec{}, err
	}

	spec := domain.ServiceSpec{Name: name, IsPrivateService: opts.Private}
	switch {
	case opts.Image != "" && opts.Runtime != "":
		return domain.ServiceSpec{}, errors.New("choose either a runtime or an image, not both")
	case opts.Image != "":
		spec.Artifact = domain.Artifact{
			Kind:  domain.ArtifactImage,
			Image: &domain.ImageArtifact{Image: opts.Image},
		}
	default:
		cmds, ok := runtimeCommands[opts.Runtime]
		if !ok {
			return domain.ServiceSpec{}, fmt.Errorf("unsupported runtime %q: allowed values are nodejs, python, go", opts.Runtime)
		}
		spec.BuildCommand, spec.StartCommand = cmds[0], cmds[1]
		spec.Artifact = domain.Artifact{
			Kind:   domain.ArtifactSource,
			Source: &domain.SourceArtifact{Runtime: opts.Runtime, Directory: "."},
		}
	}
	return spec, nil
}

// defaultServiceName turns a directory name into a service name.
func defaultServiceName(base string) string {
	name := nameInvalidChars.ReplaceAllString(strings.ToLower(base), "-")
	name = strings.Trim(name, "-")
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "-")
	}
	return name
}

// WriteSpec writes spec to path as YAML. An existing file is only replaced
// when overwrite is set.
func WriteSpec(path string, spec domain.ServiceSpec, overwrite bool) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use -force to replace it)", path)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// =============================================================================
// Variables
// =============================================================================

// SetEnvVars sets envVars entries in the spec file at path. Each assignment
// has the form KEY=VALUE; the value may itself contain '='. Assignments that
// are malformed or name an invalid variable are returned as skipped and leave
// the file untouched. The rest of the document, including comments and key
// order, is preserved.
func SetEnvVars(path string, assignments []string) (set, skipped []string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("%s: spec must be a mapping", path)
	}

	vars := mappingValue(root, "envVars")
	if vars == nil || vars.Kind != yaml.MappingNode {
		vars = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMappingValue(root, "envVars", vars)
	}

	for _, a := range assignments {
		key, value, ok := strings.Cut(a, "=")
		if !ok || !domain.ValidEnvVarName(key) {
			skipped = append(skipped, a)
			continue
		}
		setMappingValue(vars, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
		set = append(set, key)
	}
	if len(set) == 0 {
		return nil, skipped, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, nil, err
	}
	return set, skipped, os.WriteFile(path, buf.Bytes(), info.Mode().Perm())
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}
