// Package storage describes where packaged flow artifacts live.
//
// A descriptor only records where flows were packaged; it never builds images or
// moves files. Environments inspect the descriptor's Kind to decide whether they can
// run flows packaged that way.
package storage

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind identifies a storage variant.
type Kind string

const (
	KindDocker Kind = "docker"
	KindLocal  Kind = "local"
	KindMemory Kind = "memory"
)

// DefaultFlowDir is where flows are placed inside a Docker image.
const DefaultFlowDir = "/root/.prefect/flows"

// Storage is a tagged storage descriptor.
type Storage interface {
	// Kind returns the storage variant.
	Kind() Kind

	// Flows maps flow names to their location within the storage.
	Flows() map[string]string
}

var descriptorValidator = validator.New(validator.WithRequiredStructEnabled())

// Docker describes flows baked into a container image.
type Docker struct {
	RegistryURL string            `yaml:"registry_url,omitempty" validate:"omitempty,hostname_port|hostname|url"`
	BaseImage   string            `yaml:"base_image,omitempty"`
	ImageName   string            `yaml:"image_name" validate:"required,excludesall=:@"`
	ImageTag    string            `yaml:"image_tag,omitempty" validate:"omitempty,excludesall=:/@"`
	FlowDir     string            `yaml:"flow_dir,omitempty" validate:"omitempty,startswith=/"`
	FlowPaths   map[string]string `yaml:"flows,omitempty" validate:"dive,keys,required,endkeys,required,startswith=/"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// NewDocker creates a Docker descriptor for the given image.
func NewDocker(registryURL, imageName, imageTag string) *Docker {
	return &Docker{
		RegistryURL: registryURL,
		ImageName:   imageName,
		ImageTag:    imageTag,
		FlowPaths:   make(map[string]string),
		Env:         make(map[string]string),
	}
}

// Kind implements Storage.
func (d *Docker) Kind() Kind {
	return KindDocker
}

// Flows implements Storage.
func (d *Docker) Flows() map[string]string {
	if d == nil {
		return nil
	}
	return d.FlowPaths
}

// ImageRef returns the full image reference, e.g. "registry:5000/team/flows:v1".
// An empty tag resolves to "latest".
func (d *Docker) ImageRef() string {
	tag := d.ImageTag
	if tag == "" {
		tag = "latest"
	}

	name := d.ImageName
	if d.RegistryURL != "" {
		registry := strings.TrimPrefix(strings.TrimPrefix(d.RegistryURL, "https://"), "http://")
		name = strings.TrimSuffix(registry, "/") + "/" + name
	}
	return name + ":" + tag
}

// FlowPath returns the in-image path of the named flow.
func (d *Docker) FlowPath(name string) (string, bool) {
	p, ok := d.FlowPaths[name]
	return p, ok
}

// AddFlow records a flow under name and returns its in-image path.
// Flows land in FlowDir (DefaultFlowDir when empty) as "<slug>.prefect".
func (d *Docker) AddFlow(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("flow name is required")
	}
	if _, exists := d.FlowPaths[name]; exists {
		return "", fmt.Errorf("flow %s already added to image %s", name, d.ImageRef())
	}

	dir := d.FlowDir
	if dir == "" {
		dir = DefaultFlowDir
	}

	if d.FlowPaths == nil {
		d.FlowPaths = make(map[string]string)
	}
	p := path.Join(dir, slugify(name)+".prefect")
	d.FlowPaths[name] = p
	return p, nil
}

// Validate checks the descriptor fields.
func (d *Docker) Validate() error {
	if err := descriptorValidator.Struct(d); err != nil {
		return fmt.Errorf("invalid docker storage: %w", err)
	}
	return nil
}

// Local describes flows stored as files on the local filesystem.
type Local struct {
	Directory string            `yaml:"directory" validate:"required"`
	FlowPaths map[string]string `yaml:"flows,omitempty"`
}

// Kind implements Storage.
func (l *Local) Kind() Kind {
	return KindLocal
}

// Flows implements Storage.
func (l *Local) Flows() map[string]string {
	return l.FlowPaths
}

// Validate checks the descriptor fields.
func (l *Local) Validate() error {
	if err := descriptorValidator.Struct(l); err != nil {
		return fmt.Errorf("invalid local storage: %w", err)
	}
	return nil
}

// Memory describes flows kept in process memory.
type Memory struct {
	FlowNames []string `yaml:"flows,omitempty"`
}

// Kind implements Storage.
func (m *Memory) Kind() Kind {
	return KindMemory
}

// Flows implements Storage. Memory flows have no location, names map to themselves.
func (m *Memory) Flows() map[string]string {
	flows := make(map[string]string, len(m.FlowNames))
	for _, name := range m.FlowNames {
		flows[name] = name
	}
	return flows
}

// Describe returns a one-line description of s for logs and CLI output.
func Describe(s Storage) string {
	if s == nil {
		return "<nil>"
	}

	names := make([]string, 0, len(s.Flows()))
	for name := range s.Flows() {
		names = append(names, name)
	}
	sort.Strings(names)

	switch v := s.(type) {
	case *Docker:
		return fmt.Sprintf("docker image %s (flows: %s)", v.ImageRef(), strings.Join(names, ", "))
	case *Local:
		return fmt.Sprintf("local directory %s (flows: %s)", v.Directory, strings.Join(names, ", "))
	default:
		return fmt.Sprintf("%s storage (flows: %s)", s.Kind(), strings.Join(names, ", "))
	}
}

func slugify(name string) string {
	var sb strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		case !lastDash && sb.Len() > 0:
			sb.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
