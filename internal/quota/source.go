package quota

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// CredentialSource yields the ordered credential list.
type CredentialSource interface {
	Keys(ctx context.Context) ([]string, error)
}

// StaticSource is a fixed list, typically from config or environment.
type StaticSource []string

// Keys implements CredentialSource.
func (s StaticSource) Keys(context.Context) ([]string, error) {
	return []string(s), nil
}

// FileSource reads a YAML file of the form:
//
//	keys:
//	  - sk-ant-...
//	  - sk-ant-...
//
// A missing file yields no keys so credentials can be dropped in later.
type FileSource struct {
	Path string
}

type credentialsFile struct {
	Keys []string `yaml:"keys"`
}

// Keys implements CredentialSource.
func (f FileSource) Keys(context.Context) ([]string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "quota: read %s", f.Path)
	}
	var cf credentialsFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, eris.Wrapf(err, "quota: parse %s", f.Path)
	}
	out := make([]string, 0, len(cf.Keys))
	for _, k := range cf.Keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

// MultiSource concatenates sources in order, dropping duplicates.
type MultiSource []CredentialSource

// Keys implements CredentialSource.
func (ms MultiSource) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, src := range ms {
		keys, err := src.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out, nil
}
