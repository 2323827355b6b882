package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务端运行参数；优先级：命令行 > 环境变量 > .env > 默认值
type Config struct {
	Addr         string
	LogFile      string
	LogLevel     string
	StaticDir    string
	EmptyRoomTTL time.Duration
}

func Default() Config {
	return Config{
		Addr:         ":2567",
		LogFile:      "app.log",
		LogLevel:     "debug",
		StaticDir:    "web",
		EmptyRoomTTL: 30 * time.Second,
	}
}

// Load 读取可选的 .env 文件与环境变量；files 为空时读取当前目录的 .env
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Default()
	if v, ok := os.LookupEnv("MPDEMO_ADDR"); ok {
		cfg.Addr = v
	}
	if v, ok := os.LookupEnv("MPDEMO_LOG_FILE"); ok {
		cfg.LogFile = v
	}
	if v, ok := os.LookupEnv("MPDEMO_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("MPDEMO_STATIC_DIR"); ok {
		cfg.StaticDir = v
	}
	if v, ok := os.LookupEnv("MPDEMO_EMPTY_ROOM_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("MPDEMO_EMPTY_ROOM_TTL: %w", err)
		}
		cfg.EmptyRoomTTL = d
	}
	return cfg, nil
}
