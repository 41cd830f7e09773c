// =============================================================================
// Lab Notebook 命令行入口
// =============================================================================
// 实验记录本：条目、执行、血缘与产物的本地引擎
//
// 使用方法:
//
//	labnotebook page create --notebook nb --title "sweep"
//	labnotebook entry create --page <id> --type api_call --title t --inputs '{...}'
//	labnotebook execute <entry-id>
//	labnotebook lineage <entry-id> --depth 5
//	labnotebook migrate up
//	labnotebook serve --addr :9464
// =============================================================================
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/labnotebook/config"
	"github.com/BaSui01/labnotebook/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 表示参数错误，已打印用法
var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if err == nil {
		return
	}
	if !errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode 按错误类别给出退出码，便于脚本判断
func exitCode(err error) int {
	switch types.GetErrorCode(err) {
	case types.ErrNotFound:
		return 3
	case types.ErrInvalidRequest, types.ErrUnknownEntryType:
		return 4
	case types.ErrInvalidState, types.ErrCycleDetected:
		return 5
	case types.ErrIntegrityFailure, types.ErrStorageFailure:
		return 6
	}
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version":
		printVersion(stdout)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	case "migrate":
		return runMigrate(ctx, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stderr)
	}

	handler, ok := notebookCommands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return errUsage
	}
	return handler(ctx, rest, stdout, stderr)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "labnotebook %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `labnotebook - provenance and execution engine for lab notebooks

Usage:
  labnotebook <command> [options]

Commands:
  page create|get|list       Manage notebook pages
  entry create|get|list|inputs
                             Manage entries
  variation <entry-id>       Create a variation of an entry
  execute <entry-id>         Run an entry through its integration backend
  lineage <entry-id>         Show ancestors and descendants
  edges <entry-id>           Show raw lineage edges
  link <parent> <child>      Record a derives_from dependency
  artifact put|get|info      Content-addressed artifact storage
  vars set|list|delete       Integration variables per entry type
  types                      List registered entry types
  migrate <subcommand>       Database migrations
  serve                      Expose /metrics and /healthz
  version                    Show version information

Common options:
  --config <path>   Path to configuration file (YAML)

Environment variables use the LABNOTEBOOK_ prefix, e.g.
  LABNOTEBOOK_PERSISTENCE_TYPE=redis LABNOTEBOOK_REDIS_ADDR=localhost:6379

Examples:
  labnotebook page create --notebook nb-1 --title "prompt sweep"
  labnotebook entry create --page page-... --type api_call --title ping \
      --inputs '{"method":"GET","url":"https://example.com/health"}'
  labnotebook variation entry-... --title "cfg 10" --overrides '{"cfg":10}'
  labnotebook execute entry-...
  labnotebook lineage entry-... --depth 5`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
