// Package input parses workflow execution parameters from the mixed
// sources a CLI invocation accepts: files, directories, glob patterns, or
// inline "key=value;key=value" / JSON strings.
package input

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taskgraphio/orchestrator/taskgraph"
)

// Parse resolves one or more input sources into a single merged
// parameter map. Each source is tried, in order, as: a directory (every
// file inside is parsed as YAML), a glob pattern (every match is parsed
// as YAML), a single existing file (parsed as YAML), an inline JSON
// object, or an inline "k1=v1;k2=v2" pair string. Later sources overwrite
// earlier keys on conflict.
func Parse(sources ...string) (map[string]interface{}, error) {
	merged := make(map[string]interface{})
	for _, source := range sources {
		if err := parseOne(merged, source); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func parseOne(merged map[string]interface{}, source string) error {
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		entries, err := os.ReadDir(source)
		if err != nil {
			return &taskgraph.InputParseError{Kind: taskgraph.InputParseFormat, Source: source, Cause: err}
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := parseFile(merged, filepath.Join(source, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	if matches, err := filepath.Glob(source); err == nil && len(matches) > 0 {
		for _, match := range matches {
			if err := parseFile(merged, match); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := os.Stat(source); err == nil {
		return parseFile(merged, source)
	}

	return parseInline(merged, source)
}

func parseFile(merged map[string]interface{}, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return &taskgraph.InputParseError{Kind: taskgraph.InputParseFormat, Source: path, Cause: err}
	}

	// Unmarshal into interface{} first so a syntactically valid but
	// non-mapping document (a list, a scalar) is classified as a
	// structure error rather than a YAML error.
	var root interface{}
	if err := yaml.Unmarshal(content, &root); err != nil {
		return &taskgraph.InputParseError{Kind: taskgraph.InputParseYAML, Source: path, Cause: err}
	}
	if root == nil {
		return nil
	}
	parsed, ok := root.(map[string]interface{})
	if !ok {
		return &taskgraph.InputParseError{
			Kind:   taskgraph.InputParseStructure,
			Source: path,
			Cause:  fmt.Errorf("root is %T, want a mapping", root),
		}
	}
	for k, v := range parsed {
		merged[k] = v
	}
	return nil
}

func parseInline(merged map[string]interface{}, source string) error {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		for k, v := range parsed {
			merged[k] = v
		}
		return nil
	}

	for _, pair := range strings.Split(trimmed, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return &taskgraph.InputParseError{Kind: taskgraph.InputParseStructure, Source: source}
		}
		merged[kv[0]] = kv[1]
	}
	return nil
}
