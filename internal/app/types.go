// Package app manages application template bundles and their deployments:
// scanning bundle directories, rendering templates against values and the
// fleet environment, and driving docker compose at a target node.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rekcod/rekcod/api"
)

// ManifestFileName is the bundle's metadata file. Templates live under the
// template/ subdirectory; an optional project/ subdirectory is the compose
// working directory.
const (
	ManifestFileName = "application.yaml"
	templateDirName  = "template"
	projectDirName   = "project"
)

// Manifest is the parsed application.yaml.
type Manifest struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Version     string       `yaml:"version"`
	QA          []api.QAItem `yaml:"qa"`
}

// Bundle is one application directory: the manifest plus its template
// files, re-read whenever the manifest changes on disk.
type Bundle struct {
	Manifest Manifest
	Dir      string
	Tmpls    []string // template file names, sorted
}

// loadBundle parses dir's manifest and lists its templates. The bundle's
// name falls back to the directory name when the manifest leaves it empty.
func loadBundle(dir string) (*Bundle, error) {
	buf, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", dir, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("bundle %s: parsing manifest: %w", dir, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}

	var tmpls []string
	entries, err := os.ReadDir(filepath.Join(dir, templateDirName))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("bundle %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tmpls = append(tmpls, e.Name())
	}
	sort.Strings(tmpls)

	return &Bundle{Manifest: m, Dir: dir, Tmpls: tmpls}, nil
}

// ReadTemplate returns the raw text of one of the bundle's templates.
func (b *Bundle) ReadTemplate(name string) (string, error) {
	for _, t := range b.Tmpls {
		if t == name {
			buf, err := os.ReadFile(filepath.Join(b.Dir, templateDirName, name))
			if err != nil {
				return "", err
			}
			return string(buf), nil
		}
	}
	return "", fmt.Errorf("bundle %s: no template %q", b.Manifest.Name, name)
}

// TemplateDir is the directory holding the bundle's template files.
func (b *Bundle) TemplateDir() string {
	return filepath.Join(b.Dir, templateDirName)
}

// ProjectDir returns the bundle's compose working directory, empty when the
// bundle does not carry one.
func (b *Bundle) ProjectDir() string {
	p := filepath.Join(b.Dir, projectDirName)
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return p
	}
	return ""
}

// ToResponse converts the bundle for the wire.
func (b *Bundle) ToResponse() api.ApplicationResponse {
	return api.ApplicationResponse{
		ID:          b.Manifest.ID,
		Name:        b.Manifest.Name,
		Description: b.Manifest.Description,
		Version:     b.Manifest.Version,
		Tmpls:       b.Tmpls,
		QA:          b.Manifest.QA,
	}
}

// DeployInfo is the persisted deployment record (kvs module "app", keyed
// by the deployment name).
type DeployInfo struct {
	Name      string    `json:"name"`
	AppName   string    `json:"app_name"`
	NodeName  string    `json:"node_name"`
	Project   string    `json:"project,omitempty"`
	Values    string    `json:"values,omitempty"`
	Build     bool      `json:"build,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
