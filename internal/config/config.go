package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type PolicyServiceConfig struct {
	Port        string `env:"PORT" envDefault:"8083"`
	LogDir      string `env:"LOG_DIR" envDefault:"/var/log/policy_lifecycle"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"policy_lifecycle.db"`
	PostgresCfg PostgresConfig
	RabbitMQCfg RabbitMQConfig
	RedisCfg    RedisConfig
	MinioCfg    MinioConfig
	EngineCfg   EngineConfig
}

type MinioConfig struct {
	MinioURL       string `env:"MINIO_ENDPOINT" envDefault:"http://localhost:9407"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"minio"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY" envDefault:"minio123"`
	MinioLocation  string `env:"MINIO_LOCATION" envDefault:"us-east-1"`
	MinioSecure    bool   `env:"MINIO_SECURE" envDefault:"false"`
	Enabled        bool   `env:"MINIO_ENABLED" envDefault:"true"`
}

type PostgresConfig struct {
	DBname   string `env:"POSTGRES_DB" envDefault:"policy_lifecycle"`
	Username string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     string `env:"POSTGRES_PORT" envDefault:"5432"`
}

type RabbitMQConfig struct {
	Username string `env:"RABBITMQ_USER" envDefault:"admin"`
	Password string `env:"RABBITMQ_PWD" envDefault:"admin"`
	Host     string `env:"RABBITMQ_HOST" envDefault:"localhost"`
	Port     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	VHost    string `env:"RABBITMQ_VHOST" envDefault:"/"`
	Prefetch int    `env:"RABBITMQ_PREFETCH" envDefault:"10"`
	Enabled  bool   `env:"RABBITMQ_ENABLED" envDefault:"true"`
}

type RedisConfig struct {
	Host     string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string        `env:"REDIS_PORT" envDefault:"6379"`
	Password string        `env:"REDIS_PASSWORD" envDefault:""`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL time.Duration `env:"POLICY_CACHE_TTL" envDefault:"10m"`
	Enabled  bool          `env:"REDIS_ENABLED" envDefault:"true"`
}

// EngineConfig tunes lifecycle rules and the background sweeper.
type EngineConfig struct {
	GracePeriodDays      int           `env:"GRACE_PERIOD_DAYS" envDefault:"30"`
	RenewalChainMaxDepth int           `env:"RENEWAL_CHAIN_MAX_DEPTH" envDefault:"64"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	SweepWorkers         int           `env:"SWEEP_WORKERS" envDefault:"4"`
	SweepQueueSize       int           `env:"SWEEP_QUEUE_SIZE" envDefault:"256"`
}

func New() *PolicyServiceConfig {
	var cfg PolicyServiceConfig
	if err := env.Parse(&cfg); err != nil {
		log.Printf("failed to parse environment, falling back to defaults where unset: %v", err)
	}
	if cfg.EngineCfg.GracePeriodDays < 0 {
		cfg.EngineCfg.GracePeriodDays = 0
	}
	if cfg.EngineCfg.RenewalChainMaxDepth <= 0 {
		cfg.EngineCfg.RenewalChainMaxDepth = 64
	}
	if cfg.EngineCfg.SweepInterval <= 0 {
		cfg.EngineCfg.SweepInterval = time.Hour
	}
	if cfg.EngineCfg.SweepWorkers <= 0 {
		cfg.EngineCfg.SweepWorkers = 1
	}
	if cfg.EngineCfg.SweepQueueSize <= 0 {
		cfg.EngineCfg.SweepQueueSize = cfg.EngineCfg.SweepWorkers
	}
	return &cfg
}
