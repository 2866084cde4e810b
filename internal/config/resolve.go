package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// configDir is set via SetConfigDir (e.g. a --config flag) and takes
// priority over every other path-resolution rule.
var configDir string

// envSearchDirs are candidate directories for the per-environment .env
// file, checked in order. Only consulted outside production — prod
// credentials are injected by systemd/the shell.
var envSearchDirs = []string{
	".",
	"..",
}

// SetConfigDir overrides the config file search directory.
func SetConfigDir(dir string) {
	configDir = dir
}

// configPathsForEnv returns the default config search paths for env.
func configPathsForEnv(env Environment) []string {
	if env == EnvProduction {
		return []string{"/etc/docseval"}
	}
	return []string{"configs", "../configs"}
}

// ConfigFileName returns the config file name for the active APP_ENV.
func ConfigFileName() string {
	return fmt.Sprintf("%s.yaml", parseEnv(getEnv("APP_ENV", "dev")))
}

// GetConfigDir returns the directory configs are read from and written
// to. Priority: SetConfigDir > root user (/etc/docseval) > writable
// /etc/docseval > dev fallback to ./configs.
func GetConfigDir() string {
	if configDir != "" {
		return configDir
	}
	if IsRoot() {
		return "/etc/docseval"
	}
	if info, err := os.Stat("/etc/docseval"); err == nil && info.IsDir() {
		testFile := "/etc/docseval/.write_test"
		if err := os.WriteFile(testFile, []byte("test"), 0644); err == nil {
			os.Remove(testFile)
			return "/etc/docseval"
		}
	}
	return "configs"
}

// GetConfigFilePath returns the path the active YAML config was loaded
// from, or "" if none was found (defaults only).
func GetConfigFilePath() string {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	_, loadedFrom := loadYAMLConfig(env)
	return loadedFrom
}

// ConfigExists reports whether a config file for APP_ENV exists.
func ConfigExists() bool {
	return findConfigFile() != ""
}

// IsRoot reports whether the process runs as root.
func IsRoot() bool {
	return os.Getuid() == 0
}

// ReadConfigFile reads the active config file's raw YAML.
func ReadConfigFile() ([]byte, string, error) {
	path := GetConfigFilePath()
	if path == "" {
		return nil, "", fmt.Errorf("no config file found")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, err
	}
	return data, path, nil
}

// WriteConfigFile writes content to the active config file path,
// creating a new one at the default location if none exists yet.
func WriteConfigFile(content []byte) (string, error) {
	path := GetConfigFilePath()
	if path == "" {
		path = filepath.Join(GetConfigDir(), ConfigFileName())
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return path, err
	}
	return path, os.WriteFile(path, content, 0640)
}

func findConfigFile(extraNames ...string) string {
	names := []string{ConfigFileName()}
	names = append(names, extraNames...)
	for _, base := range effectiveConfigPaths() {
		for _, name := range names {
			p := filepath.Join(base, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// effectiveConfigPaths returns the actual search paths. Priority:
// SetConfigDir > CONFIG_DIR env var > APP_ENV default.
func effectiveConfigPaths() []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	env := parseEnv(getEnv("APP_ENV", "dev"))
	return configPathsForEnv(env)
}

// loadEnvFiles loads .env.{env}, the single credential source shared
// with Docker Compose. Never consulted in production.
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}
	envFileName := fmt.Sprintf(".env.%s", string(env))
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, envFileName)); err == nil {
			break
		}
	}
}
