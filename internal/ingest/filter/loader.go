// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// rulesSchema constrains the rule file shape. Validation happens before
// decoding so a malformed edit keeps the previous snapshot instead of
// half-applying.
const rulesSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["rules"],
	"properties": {
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type", "values"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"enum": ["keyword", "genre_block", "platform_block", "platform_allow"]},
					"values": {
						"type": "array",
						"items": {"type": "string"}
					}
				},
				"additionalProperties": false
			}
		}
	},
	"additionalProperties": false
}`

// # Rule Loading

// Loader owns the rule file: initial load, schema validation, and
// fsnotify-driven hot reload into an atomically swapped snapshot.
//
// # Concurrency
//
// Snapshot() is safe from any goroutine. A cycle takes one snapshot at its
// start and never sees a mid-cycle change.
type Loader struct {
	path     string
	schema   *jsonschema.Schema
	snapshot atomic.Pointer[RuleSet]
	logger   *slog.Logger
}

// NewLoader compiles the schema and performs the initial load.
//
// A missing rule file is not an error: the pipeline starts with an empty
// rule set and picks the file up when it appears.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	compiler := jsonschema.NewCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(rulesSchema))
	if err != nil {
		return nil, fmt.Errorf("filter: invalid embedded schema: %w", err)
	}
	if err := compiler.AddResource("rules.schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("filter: failed to register schema: %w", err)
	}

	compiled, err := compiler.Compile("rules.schema.json")
	if err != nil {
		return nil, fmt.Errorf("filter: failed to compile schema: %w", err)
	}

	loader := &Loader{
		path:   path,
		schema: compiled,
		logger: logger,
	}
	loader.snapshot.Store(&RuleSet{})

	if err := loader.reload(); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("filter_rules_missing", slog.String("path", path))
		} else {
			return nil, err
		}
	}

	return loader, nil
}

// Snapshot returns the current immutable rule set.
func (loader *Loader) Snapshot() *RuleSet {
	return loader.snapshot.Load()
}

/*
Watch blocks until the context is cancelled, reloading the rule file on
filesystem changes.

Description: The parent directory is watched (editors typically replace the
file via rename, which drops a file-level watch). Reload failures keep the
previous snapshot; the pipeline never runs with half-applied rules.
*/
func (loader *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("filter: failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(loader.path)); err != nil {
		return fmt.Errorf("filter: failed to watch rules directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(loader.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if err := loader.reload(); err != nil {
				loader.logger.Error("filter_rules_reload_failed",
					slog.String("path", loader.path),
					slog.Any("error", err),
				)
				continue
			}
			loader.logger.Info("filter_rules_reloaded",
				slog.String("path", loader.path),
				slog.Int("rule_count", len(loader.Snapshot().Rules)),
			)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			loader.logger.Error("filter_watcher_error", slog.Any("error", watchErr))
		}
	}
}

// reload reads, validates, decodes, and atomically swaps the rule set.
func (loader *Loader) reload() error {
	raw, err := os.ReadFile(loader.path)
	if err != nil {
		return err
	}

	// Schema validation against the raw document
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("filter: rules file is not valid JSON: %w", err)
	}
	if err := loader.schema.Validate(instance); err != nil {
		return fmt.Errorf("filter: rules file failed schema validation: %w", err)
	}

	var set RuleSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("filter: failed to decode rules: %w", err)
	}

	loader.snapshot.Store(&set)
	return nil
}
