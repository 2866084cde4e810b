package config

import "time"

// Environment is the deployment environment selector driven by APP_ENV.
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig is the on-disk configs/{env}.yaml shape. Secrets never live
// here — fields tagged yaml:"-" are populated from the environment only.
type YAMLConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig describes the storage backend. Driver selects which
// internal/storage implementation backs the Store interface; Path is
// used by the SQLite driver, Host+Port by Postgres and MongoDB, and URI
// by MongoDB only.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres", "sqlite", "mongodb", or "memory"
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // DB_PASSWORD
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB only: takes precedence over host/port when set
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // REDIS_PASSWORD
	URL      string `yaml:"url"` // takes precedence over host/port/db when set
}

// MinIOConfig configures the object-storage backend for artifacts over
// blob.InlineThresholdBytes.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"` // MINIO_ROOT_USER
	SecretKey string `yaml:"-"` // MINIO_ROOT_PASSWORD
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// OrchestratorConfig supplies the defaults createRun falls back to when a
// request omits a field (§4 "defaults from configuration").
type OrchestratorConfig struct {
	MaxTasks                int           `yaml:"max_tasks"`
	MaxStepsPerTask         int           `yaml:"max_steps_per_task"`
	MaxTokensPerTask        int           `yaml:"max_tokens_per_task"`
	HardCostCapUSD          float64       `yaml:"hard_cost_cap_usd"`
	ExecutionConcurrency    int           `yaml:"execution_concurrency"`
	JudgeConcurrency        int           `yaml:"judge_concurrency"`
	TieBreakEnabled         bool          `yaml:"tie_break_enabled"`
	EnableSkillOptimization bool          `yaml:"enable_skill_optimization"`
	WorkerCount             int           `yaml:"worker_count"`
	RunModel                string        `yaml:"run_model"`
	JudgeModel              string        `yaml:"judge_model"`
	ModelTimeout            time.Duration `yaml:"model_timeout"`
}

// Config is the fully resolved configuration, environment overrides
// already applied.
type Config struct {
	Env            Environment
	DatabaseDriver string
	DatabaseURL    string
	DatabaseDBName string // used by the mongostore driver
	RedisURL       string
	APIPort        string
	MinIO          MinIOConfig
	Orchestrator   OrchestratorConfig
	ConfigFilePath string
}
