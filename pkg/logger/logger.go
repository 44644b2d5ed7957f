package logger

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quantflow/conf"
)

// 基于zap的全局日志，支持控制台和滚动文件双输出

var (
	lg  *zap.Logger
	sug *zap.SugaredLogger
)

func init() {
	// 未调用Init前先给一个控制台logger，避免空指针
	lg, _ = zap.NewDevelopment(zap.AddCallerSkip(1))
	sug = lg.Sugar()
}

// Init 根据配置初始化日志，进程启动时调用一次
func Init(cfg conf.LogConfig) {
	level := zapcore.InfoLevel
	_ = level.Set(cfg.Level)

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02 15:04:05.000"
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := make([]zapcore.Core, 0, 2)

	if cfg.FileName != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileWriter, level))
	}

	if cfg.Console || cfg.FileName == "" {
		consoleEnc := zap.NewDevelopmentEncoderConfig()
		consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.AddSync(os.Stdout), level))
	}

	lg = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	sug = lg.Sugar()
}

// Pair 构造一个结构化字段
func Pair(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

func Debug(msg string, fields ...zap.Field) { lg.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { lg.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { lg.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { lg.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { lg.Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { sug.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { sug.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { sug.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { sug.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { sug.Fatalf(format, args...) }

// Sync 进程退出前刷盘
func Sync() {
	_ = lg.Sync()
}
