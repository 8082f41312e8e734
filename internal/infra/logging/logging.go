// Package logging 构造全局使用的 zerolog logger。
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述日志输出。
//
// 约束：
// - 日志只写 Out（默认 stderr）与可选的文件；stdout 留给 RunReport JSON
// - File 非空时按大小轮转，目录不存在会被创建；创建失败则只写 Out
type Config struct {
	Level  string    // trace / debug / info / warn / error，默认 info
	Format string    // console / json，默认 console
	File   string    // 日志文件路径；为空表示不落盘
	Out    io.Writer // 默认 os.Stderr

	MaxSizeMB  int // 默认 10
	MaxBackups int // 默认 3
}

// Logger 持有 zerolog.Logger 以及（可选的）轮转文件句柄。
type Logger struct {
	zerolog.Logger
	rotator *lumberjack.Logger
}

func New(cfg Config) *Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if strings.ToLower(strings.TrimSpace(cfg.Format)) != "json" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: true}
	}

	w := console
	var rotator *lumberjack.Logger
	if f := strings.TrimSpace(cfg.File); f != "" {
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err == nil {
			maxSize := cfg.MaxSizeMB
			if maxSize <= 0 {
				maxSize = 10
			}
			maxBackups := cfg.MaxBackups
			if maxBackups <= 0 {
				maxBackups = 3
			}
			rotator = &lumberjack.Logger{
				Filename:   f,
				MaxSize:    maxSize,
				MaxBackups: maxBackups,
				LocalTime:  true,
			}
			// 文件里始终写 JSON 行，便于事后 grep / jq。
			w = io.MultiWriter(console, rotator)
		}
	}

	l := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{Logger: l, rotator: rotator}
}

// Close 关闭日志文件（如果有）。
func (l *Logger) Close() error {
	if l == nil || l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Component 返回带 component 字段的子 logger。
func (l *Logger) Component(name string) zerolog.Logger {
	return l.Logger.With().Str("component", name).Logger()
}

// ParseLevel 把配置字符串转换为 zerolog.Level；未知值回退 info。
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel 报告 level 是否是可识别的级别（供 config 校验使用）。
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}
