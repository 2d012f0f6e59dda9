package main

import (
	"context"
	"database/sql"
	"fmt"

	"activity-platform/internal/activity"
	"activity-platform/internal/config"
	"activity-platform/internal/users"
	"activity-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := utils.Migrate(db); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create the administrator account from ADMIN_EMAIL and ADMIN_PASSWORD",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		svc := users.NewService(users.NewPostgresRepo(db), discardSink{})
		u, created, err := svc.EnsureAdmin(cmd.Context(), cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			return err
		}
		if created {
			log.Info("admin user created", "user_id", u.ID, "email", u.Email)
		} else {
			log.Info("admin user already exists", "user_id", u.ID, "email", u.Email)
		}
		return nil
	},
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	return db, nil
}

// discardSink is the activity sink of one-shot commands; they record nothing.
type discardSink struct{}

func (discardSink) Submit(context.Context, activity.Entry) bool { return false }
