package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "连接数据库并创建/更新表结构",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.storage.Store.Health(cmd.Context()); err != nil {
				return fmt.Errorf("database health check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", storeLabel(e.cfg.Database.Type))
			return nil
		},
	}
}

// demoEvent 演示用量记录，offset 为距当前时间的偏移
type demoEvent struct {
	provider string
	credits  int64
	offset   time.Duration
}

var demoEvents = []demoEvent{
	{provider: "dalle", credits: 10, offset: 0},
	{provider: "flux-kontext", credits: 8, offset: 10 * time.Minute},
	{provider: "gemini", credits: 5, offset: 20 * time.Minute},
}

func newSeedDemoCmd() *cobra.Command {
	var (
		accountID string
		email     string
		credits   int64
	)

	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "创建演示账户、一个 API Key 和三条用量记录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			now := time.Now().UTC()

			account := &domain.Account{
				ID:        accountID,
				Email:     email,
				Credits:   credits,
				Plan:      domain.PlanPro,
				CreatedAt: now,
			}
			switch err := e.storage.Store.CreateAccount(ctx, account); {
			case errors.Is(err, storage.ErrAccountExists):
				fmt.Fprintf(out, "account %s already exists, keeping its balance\n", accountID)
			case err != nil:
				return fmt.Errorf("failed to create account: %w", err)
			default:
				fmt.Fprintf(out, "created account %s with %d credits (plan %s)\n", accountID, credits, domain.PlanPro)
			}

			key, raw, err := e.services.Keys.Create(ctx, accountID, "Demo Key")
			if err != nil {
				return err
			}

			for _, de := range demoEvents {
				event := &domain.UsageEvent{
					AccountID:      accountID,
					APIKeyID:       key.ID,
					Timestamp:      now.Add(-de.offset),
					CreditsUsed:    de.credits,
					ProvidersUsed:  []string{de.provider},
					SuccessCount:   1,
					RequestedCount: 1,
				}
				if err := e.services.Usage.Append(ctx, event); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "created API key %s (%s)\n", key.ID, key.Preview)
			fmt.Fprintf(out, "secret (shown once): %s\n", raw)
			fmt.Fprintf(out, "added %d demo usage events\n", len(demoEvents))
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "demo_user_001", "演示账户 ID")
	cmd.Flags().StringVar(&email, "email", "demo@bigapi.local", "演示账户邮箱")
	cmd.Flags().Int64Var(&credits, "credits", 10000, "初始积分")
	return cmd
}

func newIssueSessionCmd() *cobra.Command {
	var (
		accountID string
		email     string
	)

	cmd := &cobra.Command{
		Use:   "issue-session",
		Short: "使用配置的密钥签发开发用会话令牌",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			token, err := e.services.Sessions.Issue(accountID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "账户 ID（写入 sub）")
	cmd.Flags().StringVar(&email, "email", "", "账户邮箱")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newCreateKeyCmd() *cobra.Command {
	var (
		accountID string
		name      string
	)

	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "为账户创建 API Key，原始密钥只输出一次",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			if _, err := e.services.Accounts.Ensure(ctx, accountID, ""); err != nil {
				return err
			}
			key, raw, err := e.services.Keys.Create(ctx, accountID, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:      %s\n", key.ID)
			fmt.Fprintf(out, "preview: %s\n", key.Preview)
			fmt.Fprintf(out, "secret:  %s\n", raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "账户 ID")
	cmd.Flags().StringVar(&name, "name", "", "密钥名称")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newRevokeKeyCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "revoke-key <key-id>",
		Short: "吊销账户下的 API Key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.services.Keys.Revoke(cmd.Context(), accountID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "账户 ID")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func storeLabel(t string) string {
	if t == "" {
		return "memory"
	}
	return t
}
