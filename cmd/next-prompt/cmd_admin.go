package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashwinyue/next-prompt/internal/database"
	"github.com/ashwinyue/next-prompt/internal/middleware"
	"github.com/ashwinyue/next-prompt/internal/model"
	"github.com/ashwinyue/next-prompt/internal/service/experiment"
	"github.com/ashwinyue/next-prompt/internal/service/registry"
)

var (
	seedFile     string
	experimentID string
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

// migrateCmd 建表
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.New(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migration completed")
		return nil
	},
}

// seedCmd 导入种子变体
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Register the variants listed in a seed file",
	Long: `Registers every variant in the seed file. Variants whose
(prompt_name, version) already exists are counted as duplicates and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := seedFile
		if path == "" {
			path = cfg.Seed.Path
		}
		variants, err := registry.LoadSeedFile(path)
		if err != nil {
			return err
		}

		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.services.Registry.Seed(cmd.Context(), variants)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

// rollupCmd 汇总变体评分
var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Recompute aggregate scores for every variant",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.services.Scorer.Rollup(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

// concludeCmd 结束实验
var concludeCmd = &cobra.Command{
	Use:   "conclude",
	Short: "Conclude due experiments, or stop one experiment now",
	Long: `Without --experiment, concludes every running experiment whose arms reached
the minimum sample size or whose maximum duration elapsed. Intended for cron.

With --experiment, stops that experiment immediately (reason "manual").`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if experimentID != "" {
			conclusion, err := a.services.Experiment.Conclude(cmd.Context(), experimentID, model.ConcludeManual)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), conclusion)
		}

		// 部分实验失败时仍输出已结束的实验
		conclusions, err := a.services.Experiment.Check(cmd.Context(), time.Now().UTC())
		if conclusions == nil {
			conclusions = []*experiment.Conclusion{}
		}
		if perr := printJSON(cmd.OutOrStdout(), conclusions); perr != nil {
			return perr
		}
		return err
	},
}

// tokenCmd 签发管理接口令牌
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed token for the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		role := tokenRole
		if role == "" {
			role = cfg.Auth.AdminRole
		}
		token, err := middleware.SignToken(cfg.Auth.JWTSecret, tokenSubject, role, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Seed file (default: seed.path from config)")

	concludeCmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Experiment to stop now (default: conclude every due experiment)")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "Role claim (default: auth.adminRole from config)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}
