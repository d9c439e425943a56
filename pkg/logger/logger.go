package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Log  *zap.Logger
	once sync.Once
)

// Init 初始化全局日志记录器
// 控制台输出人类可读格式，文件输出 JSON 并按大小轮转
func Init(logDir string, debug bool) {
	once.Do(func() {
		if logDir == "" {
			logDir = "logs"
		}
		if err := os.MkdirAll(logDir, 0755); err != nil {
			panic(err)
		}

		// 控制台输出 (带颜色)
		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		consoleCfg.EncodeCaller = zapcore.ShortCallerEncoder
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stdout),
			level(debug),
		)

		// 文件输出 (JSON + 轮转)
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(logDir, "hypercore.json"),
				MaxSize:    10, // MB
				MaxBackups: 30,
				MaxAge:     30, // 天
				Compress:   true,
			}),
			zapcore.InfoLevel, // 文件始终记录 INFO 及以上
		)

		Log = zap.New(
			zapcore.NewTee(consoleCore, fileCore),
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		zap.ReplaceGlobals(Log)
	})
}

func level(debug bool) zapcore.LevelEnabler {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Module 获取带 module 字段的子 logger
func Module(name string) *zap.Logger {
	if Log == nil {
		Init("logs", true) // 防止未初始化调用 panic
	}
	return Log.With(zap.String("module", name))
}

// Sync 刷新缓冲的日志条目，进程退出前调用
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
