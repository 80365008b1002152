package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the content of one config file, keyed by configuration key.
type Settings map[string]any

// ReadSettings parses the YAML file at path. A missing file yields empty
// settings.
func ReadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	s := Settings{}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s == nil {
		s = Settings{}
	}
	return s, nil
}

// Set stores value under the canonical spelling of key.
func (s Settings) Set(key Key, value any) {
	for existing := range s {
		if existing != key.Name && strings.EqualFold(existing, key.Name) {
			delete(s, existing)
		}
	}
	s[key.Name] = value
}

// WriteSettings writes s to path in key order, stamping the current schema
// version.
func WriteSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	s["schemaVersion"] = SchemaVersion
	doc := &yaml.Node{Kind: yaml.MappingNode}

	written := make(map[string]bool, len(s))
	for _, k := range Keys {
		value, ok := s[k.Name]
		if !ok {
			continue
		}
		if err := appendPair(doc, k.Name, value, ""); err != nil {
			return err
		}
		written[k.Name] = true
	}

	var unknown []string
	for name := range s {
		if !written[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		if err := appendPair(doc, name, s[name], ""); err != nil {
			return err
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ResetSettings deletes the file at path. A missing file is not an error.
func ResetSettings(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// RenderConfig renders the resolved configuration as YAML, annotating every
// key with its source. Secrets are masked.
func RenderConfig(l Loaded) (string, error) {
	values := configValues(l.Config)
	doc := &yaml.Node{Kind: yaml.MappingNode}

	for _, k := range Keys {
		value := values[k.Name]
		if k.Secret {
			if str, _ := value.(string); str != "" {
				value = "********"
			}
		}
		source := l.Sources[k.Name]
		if source == "" {
			source = SourceDefault
		}
		if err := appendPair(doc, k.Name, value, string(source)); err != nil {
			return "", err
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}
	return string(out), nil
}

func appendPair(doc *yaml.Node, key string, value any, comment string) error {
	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if comment != "" {
		valueNode.LineComment = "# " + comment
	}
	doc.Content = append(doc.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&valueNode,
	)
	return nil
}

// Value returns the resolved value of the named key, or nil for an unknown
// key.
func (c Config) Value(name string) any {
	if k, ok := LookupKey(name); ok {
		return configValues(c)[k.Name]
	}
	return nil
}

func configValues(c Config) map[string]any {
	return map[string]any{
		"allowEmpty":         c.AllowEmpty,
		"linear":             c.Linear,
		"continueOnConflict": c.ContinueOnConflict,
		"remoteTarget":       c.RemoteTarget,
		"onConflict":         c.OnConflict,
		"dryRun":             c.DryRun,
		"yes":                c.Yes,
		"autostash":          c.Autostash,
		"pushWithLease":      c.PushWithLease,
		"noBackup":           c.NoBackup,
		"retargetPR":         c.RetargetPR,
		"logLevel":           c.LogLevel,
		"logFormat":          c.LogFormat,
		"logFile":            c.LogFile,
		"githubToken":        c.GitHubToken,
		"githubBaseURL":      c.GitHubBaseURL,
		"githubUploadURL":    c.GitHubUploadURL,
		"remote":             c.Remote,
		"schemaVersion":      c.SchemaVersion,
	}
}
