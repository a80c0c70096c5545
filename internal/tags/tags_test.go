package tags

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadTaskStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "tasks.json"),
		`{"master": {"tasks": []}, "feature-x": {"tasks": []}}`)
	writeFile(t, filepath.Join(dir, ".airelay", "state.json"),
		`{"currentTag": "feature-x"}`)

	info, err := Read(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.CurrentTag != "feature-x" {
		t.Errorf("currentTag = %q, expected feature-x", info.CurrentTag)
	}
	if len(info.AvailableTags) != 2 {
		t.Errorf("availableTags = %v, expected both tags", info.AvailableTags)
	}
}

func TestReadDefaultsCurrentTagWithoutState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "tasks.json"), `{"master": {}}`)

	info, err := Read(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.CurrentTag != "master" {
		t.Errorf("currentTag = %q, expected the master default", info.CurrentTag)
	}
}

func TestReadAddsCurrentTagToAvailable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "tasks.json"), `{"master": {}}`)
	writeFile(t, filepath.Join(dir, ".airelay", "state.json"), `{"currentTag": "wip"}`)

	info, err := Read(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, tag := range info.AvailableTags {
		if tag == "wip" {
			found = true
		}
	}
	if !found {
		t.Errorf("availableTags = %v, the current tag must always be listed", info.AvailableTags)
	}
}

func TestReadMissingStoreErrors(t *testing.T) {
	if _, err := Read(t.TempDir()); err == nil {
		t.Fatal("expected an error when the task store is absent")
	}
}

func TestReadCorruptStateFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "tasks.json"), `{"master": {}}`)
	writeFile(t, filepath.Join(dir, ".airelay", "state.json"), "not json")

	info, err := Read(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.CurrentTag != "master" {
		t.Errorf("currentTag = %q, corrupt state should fall back to master", info.CurrentTag)
	}
}

func TestReadEmptyStoreYieldsDefaultTag(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tasks", "tasks.json"), `{}`)

	info, err := Read(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.AvailableTags) != 1 || info.AvailableTags[0] != "master" {
		t.Errorf("availableTags = %v, expected [master]", info.AvailableTags)
	}
}
