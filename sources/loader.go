package sources

import (
	"errors"
	"fmt"
	"os"

	"github.com/marcelsud/webhook-relay/config"
	"gopkg.in/yaml.v3"
)

/* Loader holds the webhook sources known to the collector
 * Sources come from the main configuration and optionally from a separate YAML file.
 * The set is built once at startup and only read afterwards.
 */

// ErrNotFound is returned when no source matches the requested name
var ErrNotFound = errors.New("source not found")

// File represents the structure of a sources YAML file
type File struct {
	Sources []config.WebhookSourceConfig `yaml:"webhook_sources"`
}

type Loader struct {
	sources map[string]*Source
	order   []string
}

// NewLoader creates an empty source loader
func NewLoader() *Loader {
	return &Loader{
		sources: make(map[string]*Source),
	}
}

// FromConfig builds a loader from the configured sources
func FromConfig(cfgs []config.WebhookSourceConfig) (*Loader, error) {
	l := NewLoader()
	for _, c := range cfgs {
		if err := l.Register(NewSource(c)); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Register validates and adds a source; names must be unique
func (l *Loader) Register(s *Source) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validating source: %w", err)
	}
	if _, exists := l.sources[s.Name]; exists {
		return fmt.Errorf("duplicate source: %s", s.Name)
	}
	l.sources[s.Name] = s
	l.order = append(l.order, s.Name)
	return nil
}

// Load reads a sources YAML file and registers every source in it
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading sources file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing sources YAML: %w", err)
	}

	for _, c := range file.Sources {
		if err := l.Register(NewSource(c)); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a source by its exact name
func (l *Loader) Get(name string) (*Source, error) {
	s, exists := l.sources[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// List returns all sources in registration order
func (l *Loader) List() []*Source {
	list := make([]*Source, 0, len(l.order))
	for _, name := range l.order {
		list = append(list, l.sources[name])
	}
	return list
}

// Exists checks if a source name is registered
func (l *Loader) Exists(name string) bool {
	_, exists := l.sources[name]
	return exists
}
