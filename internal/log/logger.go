package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 zerolog：dev 环境输出彩色控制台格式并打开 debug，其余环境输出带 service/env 字段的 JSON。
func Init(env, service string) {
	InitWriter(env, service, os.Stdout)
}

// InitWriter 与 Init 相同，但写入 out，测试用。
func InitWriter(env, service string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		log.Logger = zerolog.New(cw).With().Timestamp().Str("service", service).Logger()
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("env", env).
		Logger()
}
