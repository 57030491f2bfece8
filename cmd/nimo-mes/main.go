package main

import (
	"context"
	"log"
	"os"

	"github.com/ericaxiaweilin/EngHub/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "nimo-mes",
	Short:        "制造执行闭环服务：工单、报工、检验、缺陷、批次台账",
	SilenceUsage: true,
	// 不带子命令时直接启动服务
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径，默认查找 configs/config.yaml")
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本信息",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("nimo-mes %s (built %s)\n", Version, BuildTime)
	},
}

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig 读取配置并初始化日志，子命令共用
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, zapLogger, nil
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
