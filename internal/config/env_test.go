package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveEnvVariablePrefersProcessEnvironment(t *testing.T) {
	const key = "AIRELAY_TEST_KEY_ENV"
	t.Setenv(key, "from-env")

	session := map[string]string{key: "from-session"}
	if got := ResolveEnvVariable(key, session, t.TempDir()); got != "from-env" {
		t.Errorf("resolved %q, the process environment should win", got)
	}
}

func TestResolveEnvVariableFallsBackToSession(t *testing.T) {
	const key = "AIRELAY_TEST_KEY_SESSION"
	os.Unsetenv(key)

	session := map[string]string{key: "from-session"}
	if got := ResolveEnvVariable(key, session, t.TempDir()); got != "from-session" {
		t.Errorf("resolved %q, expected the session value", got)
	}
}

func TestResolveEnvVariableReadsDotenv(t *testing.T) {
	const key = "AIRELAY_TEST_KEY_DOTENV"
	os.Unsetenv(key)

	dir := t.TempDir()
	content := key + "=from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if got := ResolveEnvVariable(key, nil, dir); got != "from-dotenv" {
		t.Errorf("resolved %q, expected the .env value", got)
	}
}

func TestResolveEnvVariableMissesEverywhere(t *testing.T) {
	const key = "AIRELAY_TEST_KEY_MISSING"
	os.Unsetenv(key)

	if got := ResolveEnvVariable(key, nil, t.TempDir()); got != "" {
		t.Errorf("resolved %q, expected empty", got)
	}
}

func TestDotenvCacheIsPerProjectRoot(t *testing.T) {
	const key = "AIRELAY_TEST_KEY_CACHE"
	os.Unsetenv(key)

	withEnv := t.TempDir()
	if err := os.WriteFile(filepath.Join(withEnv, ".env"), []byte(key+"=hit\n"), 0644); err != nil {
		t.Fatal(err)
	}
	withoutEnv := t.TempDir()

	if got := ResolveEnvVariable(key, nil, withEnv); got != "hit" {
		t.Errorf("resolved %q from the project with a .env file", got)
	}
	if got := ResolveEnvVariable(key, nil, withoutEnv); got != "" {
		t.Errorf("resolved %q, the cache must not leak across project roots", got)
	}
}
