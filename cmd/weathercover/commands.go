package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/weathercover/internal/app"
	"github.com/alanyoungcy/weathercover/internal/config"
	"github.com/alanyoungcy/weathercover/internal/crypto"
)

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured mode (server, keeper or full)",
	Example: `  weathercover serve
  weathercover serve --mode keeper -c /etc/weathercover/config.toml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if serveMode != "" {
			cfg.Mode = serveMode
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
		}
		logger.Info("weathercover starting",
			slog.String("mode", cfg.Mode),
			slog.String("config", configPath),
			slog.Any("settings", config.RedactedConfig(cfg)),
		)

		application := app.New(cfg, logger)
		defer application.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("weathercover stopped")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded PostgreSQL migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := app.OpenPostgres(cmd.Context(), cfg.Postgres)
		if err != nil {
			return err
		}
		defer client.Close()

		applied, err := client.RunMigrations(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("migrations complete", slog.Int("applied", len(applied)), slog.Any("files", applied))
		return nil
	},
}

var settleCaller string

var settleCmd = &cobra.Command{
	Use:   "settle <request-id>",
	Short: "Settle one active request whose coverage window has ended",
	Long: `Settlement is permissionless: any operator may trigger it. The caller is
recorded in the audit log only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid request id %q", args[0])
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		application := app.New(cfg, logger)
		defer application.Close()

		req, err := application.Settle(cmd.Context(), id, settleCaller)
		if err != nil {
			return err
		}
		out := map[string]any{
			"id":     req.ID,
			"status": req.Status,
			"payout": req.Payout != nil && *req.Payout,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var (
	encryptKeyOut      string
	encryptKeyPassword string
)

var encryptKeyCmd = &cobra.Command{
	Use:   "encrypt-key",
	Short: "Encrypt the escrow private key into a key file",
	Long: `Reads the hex private key from WEATHERCOVER_WALLET_PRIVATE_KEY and writes
a password-protected key file usable as wallet.encrypted_key_path.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hexKey := os.Getenv("WEATHERCOVER_WALLET_PRIVATE_KEY")
		if hexKey == "" {
			return errors.New("WEATHERCOVER_WALLET_PRIVATE_KEY is not set")
		}
		password := encryptKeyPassword
		if password == "" {
			password = os.Getenv("WEATHERCOVER_WALLET_KEY_PASSWORD")
		}
		if password == "" {
			return errors.New("a password is required (--password or WEATHERCOVER_WALLET_KEY_PASSWORD)")
		}

		data, err := crypto.EncryptKey(hexKey, password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(encryptKeyOut, data, 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", encryptKeyOut)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "override the configured mode")
	settleCmd.Flags().StringVar(&settleCaller, "caller", "operator", "identity recorded as the settling caller")
	encryptKeyCmd.Flags().StringVarP(&encryptKeyOut, "out", "o", "escrow.key.json", "output key file")
	encryptKeyCmd.Flags().StringVar(&encryptKeyPassword, "password", "", "key file password")
}
