// Package tags reads the project task store to annotate dispatch results
// with the current tag context. Everything here is best-effort: callers fall
// back to the default tag when reads fail.
package tags

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/unifiedai/airelay/pkg/dispatch"
)

const defaultTag = "master"

// Read returns the current tag and the tags available in the task store.
func Read(projectRoot string) (dispatch.TagInfo, error) {
	if projectRoot == "" {
		projectRoot = "."
	}

	available, err := availableTags(projectRoot)
	if err != nil {
		return dispatch.TagInfo{}, err
	}

	current := currentTag(projectRoot)
	if !contains(available, current) {
		available = append(available, current)
		sort.Strings(available)
	}

	return dispatch.TagInfo{CurrentTag: current, AvailableTags: available}, nil
}

// Reader adapts Read into the dispatch.TagReader shape.
func Reader() dispatch.TagReader {
	return Read
}

// availableTags lists the top-level keys of tasks/tasks.json, which is keyed
// by tag name.
func availableTags(projectRoot string) ([]string, error) {
	path := filepath.Join(projectRoot, "tasks", "tasks.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task store: %w", err)
	}

	var store map[string]json.RawMessage
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parsing task store: %w", err)
	}

	tagNames := make([]string, 0, len(store))
	for tag := range store {
		tagNames = append(tagNames, tag)
	}
	sort.Strings(tagNames)
	if len(tagNames) == 0 {
		tagNames = []string{defaultTag}
	}
	return tagNames, nil
}

// currentTag reads the active tag from .airelay/state.json, defaulting to
// master.
func currentTag(projectRoot string) string {
	path := filepath.Join(projectRoot, ".airelay", "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultTag
	}

	var state struct {
		CurrentTag string `json:"currentTag"`
	}
	if err := json.Unmarshal(data, &state); err != nil || state.CurrentTag == "" {
		return defaultTag
	}
	return state.CurrentTag
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
