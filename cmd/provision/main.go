package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"

	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/core/config"
	"basegraph.app/integrations/core/db"
	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/service"
	"basegraph.app/integrations/internal/store"
)

// provision creates or refreshes the App record of every configured provider.
func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeProvision)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	apps, err := appsFromConfig(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build app records", "error", err)
		os.Exit(1)
	}
	if len(apps) == 0 {
		slog.WarnContext(ctx, "no provider configured, nothing to provision")
		return
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	err = database.WithTx(ctx, func(tx pgx.Tx) error {
		svc := service.NewAppService(store.NewStores(tx).Apps())
		for _, app := range apps {
			_, created, err := svc.EnsureApp(ctx, app)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("created %s app\n", app.Provider)
				continue
			}
			fmt.Printf("%s app already exists, updated\n", app.Provider)
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "provisioning failed", "error", err)
		os.Exit(1)
	}
}

func appsFromConfig(cfg config.Config) ([]*model.App, error) {
	var apps []*model.App

	if cfg.GitHub.Enabled() {
		key, err := os.ReadFile(cfg.GitHub.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading github private key: %w", err)
		}
		apps = append(apps, &model.App{
			Provider:      model.ProviderGitHub,
			ProviderAppID: cfg.GitHub.AppID,
			WebhookSecret: cfg.GitHub.WebhookSecret,
			PrivateKey:    string(key),
		})
	}
	if cfg.GitLab.Enabled() {
		apps = append(apps, &model.App{
			Provider:      model.ProviderGitLab,
			ProviderAppID: cfg.GitLab.ClientID,
			ClientID:      cfg.GitLab.ClientID,
			ClientSecret:  cfg.GitLab.ClientSecret,
			WebhookSecret: cfg.GitLab.WebhookToken,
		})
	}
	if cfg.Bitbucket.Enabled() {
		apps = append(apps, &model.App{
			Provider:      model.ProviderBitbucket,
			ProviderAppID: cfg.Bitbucket.ClientID,
			ClientID:      cfg.Bitbucket.ClientID,
			ClientSecret:  cfg.Bitbucket.ClientSecret,
			WebhookSecret: cfg.Bitbucket.WebhookSecret,
		})
	}
	return apps, nil
}
