package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashwinyue/next-prompt/internal/config"
	"github.com/ashwinyue/next-prompt/internal/database"
	"github.com/ashwinyue/next-prompt/internal/logging"
	"github.com/ashwinyue/next-prompt/internal/repository"
	"github.com/ashwinyue/next-prompt/internal/service"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	// 全局参数
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "next-prompt",
	Short: "next-prompt - adaptive prompt experimentation engine",
	Long: `next-prompt serves versioned prompt variants, scores every execution,
runs A/B experiments between variants and evolves new candidates from feedback.

Run "next-prompt serve" to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env 文件可选
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(resolveConfigPath())
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (or set CONFIG_PATH env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(concludeCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath 依次使用命令行参数、CONFIG_PATH 和默认路径
// 都不存在时使用内置默认值
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// app 命令共享的运行时依赖
type app struct {
	db       *database.DB
	redis    *redis.Client
	services *service.Services
}

// bootstrap 连接数据库并组装服务
func bootstrap(ctx context.Context) (*app, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database connected", zap.String("driver", cfg.Database.Driver))

	redisClient := service.NewRedisClient(cfg.Redis)
	if redisClient != nil {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, routing cache disabled", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	repos := repository.NewRepositories(db.DB)
	services, err := service.NewServices(ctx, repos, cfg, redisClient, logger)
	if err != nil {
		_ = db.Close()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	return &app{db: db, redis: redisClient, services: services}, nil
}

// Close 释放连接
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
