// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package filter

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewLoaderReadsValidFile(t *testing.T) {
	path := writeRules(t, t.TempDir(), `{
		"rules": [
			{"name": "no-recaps", "type": "keyword", "values": ["recap"]}
		]
	}`)

	loader, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	snapshot := loader.Snapshot()
	require.Len(t, snapshot.Rules, 1)
	assert.Equal(t, "no-recaps", snapshot.Rules[0].Name)
	assert.Equal(t, RuleKeyword, snapshot.Rules[0].Type)
}

func TestNewLoaderMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	loader, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err, "a missing rule file must not fail startup")

	assert.Empty(t, loader.Snapshot().Rules)
}

func TestNewLoaderRejectsSchemaViolations(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown rule type",
			content: `{"rules": [{"name": "x", "type": "regex", "values": ["a"]}]}`,
		},
		{
			name:    "missing values",
			content: `{"rules": [{"name": "x", "type": "keyword"}]}`,
		},
		{
			name:    "not json",
			content: `{"rules": [`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			path := writeRules(t, t.TempDir(), testCase.content)

			_, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
			assert.Error(t, err)
		})
	}
}

func TestReloadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, `{"rules": [{"name": "keep-me", "type": "keyword", "values": ["recap"]}]}`)

	loader, err := NewLoader(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	// Corrupt the file, then reload: the old snapshot must survive.
	require.NoError(t, os.WriteFile(path, []byte(`{"rules": [`), 0o600))
	assert.Error(t, loader.reload())

	snapshot := loader.Snapshot()
	require.Len(t, snapshot.Rules, 1)
	assert.Equal(t, "keep-me", snapshot.Rules[0].Name)
}
