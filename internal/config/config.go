// Package config implements two-layer configuration loading.
//
// Loading order (high to low precedence):
//  1. Environment variables (shell, systemd, or a .env file)
//  2. configs/{env}.yaml
//  3. Hardcoded defaults
//
// Credentials live only in the environment — YAML never stores a
// password or key. APP_ENV selects dev/test/prod.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads .env and .env.{env}, then configs/{env}.yaml and env var
// overrides, into a fully resolved Config.
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg, loadedFrom := loadYAMLConfig(env)

	dbPassword := firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")
	driver := detectDatabaseDriver(yamlCfg.Database.Driver, os.Getenv("DATABASE_URL"))
	yamlCfg.Database.Password = dbPassword
	yamlCfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	yamlCfg.MinIO.AccessKey = getEnv("MINIO_ROOT_USER", yamlCfg.MinIO.AccessKey)
	yamlCfg.MinIO.SecretKey = getEnv("MINIO_ROOT_PASSWORD", yamlCfg.MinIO.SecretKey)

	cfg := &Config{
		Env:            env,
		DatabaseDriver: driver,
		DatabaseURL:    getEnv("DATABASE_URL", buildDatabaseURL(yamlCfg.Database, dbPassword)),
		DatabaseDBName: yamlCfg.Database.Name,
		RedisURL:       getEnv("REDIS_URL", buildRedisURL(yamlCfg.Redis)),
		APIPort:        getEnv("API_PORT", yamlCfg.Server.Port),
		MinIO:          yamlCfg.MinIO,
		Orchestrator:   yamlCfg.Orchestrator,
		ConfigFilePath: loadedFrom,
	}
	return cfg
}

// loadYAMLConfig loads configs/{env}.yaml over a set of hardcoded
// defaults, returning the config and the path it was actually read
// from (empty if no file was found — defaults only).
func loadYAMLConfig(env Environment) (*YAMLConfig, string) {
	cfg := &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "mongodb", Host: "localhost", Port: 27017, Name: "docseval"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "docseval", UseSSL: false},
		Orchestrator: OrchestratorConfig{
			MaxTasks:                20,
			MaxStepsPerTask:         12,
			MaxTokensPerTask:        60000,
			HardCostCapUSD:          2.00,
			ExecutionConcurrency:    4,
			JudgeConcurrency:        4,
			TieBreakEnabled:         true,
			EnableSkillOptimization: true,
			WorkerCount:             4,
			RunModel:                "gpt-4o-mini",
			JudgeModel:              "gpt-4o-mini",
			ModelTimeout:            60 * time.Second,
		},
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			continue
		}
		return cfg, path
	}
	return cfg, ""
}
