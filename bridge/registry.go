// Package bridge maps the single letter carried in an envelope to the
// integration that handles the payload.
package bridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dhcgn/sms-bridge/content"
)

var (
	ErrUnknownBridge = errors.New("bridge: unknown shortcode")
	ErrNoPublisher   = errors.New("bridge: no publisher registered")
)

//go:embed bridges.yaml
var defaultRegistry []byte

// Bridge describes one integration.
type Bridge struct {
	Name      string `yaml:"name" json:"name"`
	Shortcode string `yaml:"shortcode" json:"shortcode"`
	// Formats maps an envelope version ("v0", "v1") to a content format.
	Formats map[string]string `yaml:"formats,omitempty" json:"formats,omitempty"`
}

// Sender identifies the phone user on whose behalf a publish happens.
type Sender struct {
	PhoneNumber string
	CountryCode string
	Language    string
}

// Result is what a publisher reports back.
type Result struct {
	Success bool
	Message string
}

// Publisher delivers extracted content to an internet service.
type Publisher interface {
	Publish(ctx context.Context, c content.Content, sender Sender) (Result, error)
}

// Registry is a static shortcode lookup. It is read-only after loading.
type Registry struct {
	bridges []Bridge
	byCode  map[string]Bridge
}

type registryFile struct {
	Bridges []Bridge `yaml:"bridges"`
}

// DefaultRegistry returns the registry compiled into the binary.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultRegistry)
}

// LoadRegistry reads a registry file. YAML and JSON are both accepted; a
// bare JSON array of bridges is accepted too.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bridge registry: %w", err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// ParseRegistry decodes registry data.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		var list []Bridge
		if listErr := yaml.Unmarshal(data, &list); listErr != nil {
			return nil, fmt.Errorf("parse bridge registry: %w", err)
		}
		file.Bridges = list
	}
	return NewRegistry(file.Bridges...)
}

// NewRegistry validates bridges and indexes them by shortcode.
func NewRegistry(bridges ...Bridge) (*Registry, error) {
	reg := &Registry{byCode: make(map[string]Bridge, len(bridges))}
	for _, b := range bridges {
		if b.Name == "" {
			return nil, fmt.Errorf("bridge with shortcode %q has no name", b.Shortcode)
		}
		if len(b.Shortcode) != 1 {
			return nil, fmt.Errorf("bridge %q: shortcode must be a single character, got %q", b.Name, b.Shortcode)
		}
		if _, dup := reg.byCode[b.Shortcode]; dup {
			return nil, fmt.Errorf("bridge %q: duplicate shortcode %q", b.Name, b.Shortcode)
		}
		for version, format := range b.Formats {
			if _, err := content.ParseFormat(format); err != nil {
				return nil, fmt.Errorf("bridge %q version %s: %w", b.Name, version, err)
			}
		}
		reg.byCode[b.Shortcode] = b
		reg.bridges = append(reg.bridges, b)
	}
	return reg, nil
}

// Lookup returns the bridge for a shortcode.
func (r *Registry) Lookup(shortcode string) (Bridge, error) {
	if b, ok := r.byCode[shortcode]; ok {
		return b, nil
	}
	return Bridge{}, fmt.Errorf("%w %q, available shortcodes: %s", ErrUnknownBridge, shortcode, r.describe())
}

// Bridges returns every configured bridge in file order.
func (r *Registry) Bridges() []Bridge {
	out := make([]Bridge, len(r.bridges))
	copy(out, r.bridges)
	return out
}

// FormatFor picks the content format for payloads of the given envelope
// version. Legacy payloads default to delimited text, versioned ones to the
// bitmap form.
func (r *Registry) FormatFor(b Bridge, version string) content.Format {
	if name, ok := b.Formats[version]; ok {
		if f, err := content.ParseFormat(name); err == nil {
			return f
		}
	}
	if version == "v0" {
		return content.Delimited
	}
	return content.Bitmap
}

func (r *Registry) describe() string {
	parts := make([]string, 0, len(r.bridges))
	for _, b := range r.bridges {
		parts = append(parts, fmt.Sprintf("'%s' for %s", b.Shortcode, b.Name))
	}
	sort.Strings(parts)
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
