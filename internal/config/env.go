package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	"github.com/unifiedai/airelay/pkg/dispatch"
	pkgLogger "github.com/unifiedai/airelay/pkg/logger"
)

var envLog = pkgLogger.NewComponentLogger("env")

// dotenvCache avoids re-reading a project's .env file for every key lookup
// within one process.
var dotenvCache sync.Map // projectRoot -> map[string]string

// ResolveEnvVariable returns the value of key, checking the process
// environment, the session overrides and a project-local .env file as layered
// fallbacks. Empty string means not found anywhere.
func ResolveEnvVariable(key string, session map[string]string, projectRoot string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v, ok := session[key]; ok && v != "" {
		return v
	}
	if v := lookupDotenv(key, projectRoot); v != "" {
		return v
	}
	return ""
}

// CredentialResolver adapts ResolveEnvVariable into the dispatch layer's
// resolver shape.
func CredentialResolver() dispatch.CredentialResolver {
	return ResolveEnvVariable
}

func lookupDotenv(key, projectRoot string) string {
	if projectRoot == "" {
		projectRoot = "."
	}

	if cached, ok := dotenvCache.Load(projectRoot); ok {
		return cached.(map[string]string)[key]
	}

	path := filepath.Join(projectRoot, ".env")
	values, err := godotenv.Read(path)
	if err != nil {
		// No .env file is the common case; cache the miss too
		values = map[string]string{}
		if !os.IsNotExist(err) {
			envLog.Debug("could not read .env file", "path", path, "error", err)
		}
	}
	dotenvCache.Store(projectRoot, values)
	return values[key]
}
