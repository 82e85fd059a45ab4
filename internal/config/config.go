package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RoomConfig struct {
	// MaxCapacity caps the maxOccupancy a room may be created with.
	MaxCapacity int    `mapstructure:"max_capacity"`
	KeyPrefix   string `mapstructure:"key_prefix"`
}

type ReaperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	ScanCount int           `mapstructure:"scan_count"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	Secret     string        `mapstructure:"secret"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Redis      RedisConfig   `mapstructure:"redis"`
	Room       RoomConfig    `mapstructure:"room"`
	Reaper     ReaperConfig  `mapstructure:"reaper"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("room.max_capacity", 8)
	v.SetDefault("room.key_prefix", "rtchub:")
	v.SetDefault("reaper.interval", "30m")
	v.SetDefault("reaper.scan_count", 100)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
