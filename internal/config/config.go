package config

import (
	"log"

	"mailtriage/pkg/config"
)

type Config struct {
	Server  config.ServerConfig  `yaml:"server"`
	Storage config.StorageConfig `yaml:"storage"`
	DB      config.DBConfig      `yaml:"db"`
	MQ      config.MQConfig      `yaml:"mq"`
	Redis   config.RedisConfig   `yaml:"redis"`
	Agent   config.AgentConfig   `yaml:"agent"`
	Retry   config.RetryConfig   `yaml:"retry"`
}

func Load() *Config {
	// 使用统一配置中心
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideStorageFromEnv(&cfg.Storage)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideAgentFromEnv(&cfg.Agent)

	return &cfg
}
