package main

import (
	"context"
	"errors"
	"fmt"

	"constructlink/internal/database"
	"constructlink/internal/model"
	"constructlink/internal/scheduler"
	"constructlink/internal/service"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func migrateCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.NewConnection(cfg.Database, logger)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrating schema: %w", err)
			}
			logger.Info("Schema up to date", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func sweepCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Run the overdue loan sweep once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			sweeper, err := scheduler.NewOverdueSweeper(cfg.Scheduler.OverdueCron, a.transfers, a.hub, a.metrics, logger.Named("overdue"))
			if err != nil {
				return err
			}
			n, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d overdue loan(s)\n", n)
			return nil
		},
	}
}

func seedCmd(envFile *string) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert demo projects, users and assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			return seed(cmd.Context(), a, password, logger)
		},
	}
	cmd.Flags().StringVar(&password, "password", "changeme123", "Password given to every demo user")
	return cmd
}

type seedUser struct {
	username string
	fullName string
	role     model.Role
	project  string
}

var demoProjects = []model.Project{
	{Code: "NTH-01", Name: "North Tower", Location: "Quezon City", IsActive: true},
	{Code: "HBR-02", Name: "Harbor Bridge", Location: "Batangas", IsActive: true},
	{Code: "DPT-00", Name: "Central Depot", Location: "Pasig", IsActive: true},
}

var demoUsers = []seedUser{
	{username: "admin", fullName: "System Administrator", role: model.RoleSystemAdmin},
	{username: "finance", fullName: "Finance Director", role: model.RoleFinanceDirector},
	{username: "assets", fullName: "Asset Director", role: model.RoleAssetDirector},
	{username: "procurement", fullName: "Procurement Officer", role: model.RoleProcurementOfficer},
	{username: "pm.north", fullName: "North Tower PM", role: model.RoleProjectManager, project: "NTH-01"},
	{username: "pm.harbor", fullName: "Harbor Bridge PM", role: model.RoleProjectManager, project: "HBR-02"},
	{username: "clerk.harbor", fullName: "Harbor Bridge Clerk", role: model.RoleSiteInventoryClerk, project: "HBR-02"},
	{username: "warehouse.depot", fullName: "Depot Warehouseman", role: model.RoleWarehouseman, project: "DPT-00"},
}

var demoAssets = []struct {
	ref, name, project string
	cost               string
}{
	{ref: "EXC-001", name: "Hydraulic Excavator 20t", project: "DPT-00", cost: "185000.00"},
	{ref: "CRN-004", name: "Mobile Crane 50t", project: "NTH-01", cost: "420000.00"},
	{ref: "GEN-017", name: "Diesel Generator 100kVA", project: "HBR-02", cost: "38500.00"},
}

// seed is idempotent: existing projects, users and assets are left untouched.
func seed(ctx context.Context, a *app, password string, logger *zap.Logger) error {
	projectIDs := make(map[string]int64, len(demoProjects))
	for _, p := range demoProjects {
		existing, err := a.projects.FindByCode(ctx, p.Code)
		switch {
		case err == nil:
			projectIDs[p.Code] = existing.ID
			continue
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("looking up project %s: %w", p.Code, err)
		}
		project := p
		if err := a.projects.Create(ctx, &project); err != nil {
			return fmt.Errorf("creating project %s: %w", p.Code, err)
		}
		projectIDs[p.Code] = project.ID
		logger.Info("Seeded project", zap.String("code", p.Code))
	}

	for _, u := range demoUsers {
		req := service.CreateUserRequest{
			Username: u.username,
			FullName: u.fullName,
			Email:    u.username + "@constructlink.local",
			Password: password,
			Role:     u.role,
		}
		if u.project != "" {
			id := projectIDs[u.project]
			req.CurrentProjectID = &id
		}
		if _, err := a.users.CreateUser(ctx, req); err != nil {
			logger.Warn("Skipped user", zap.String("username", u.username), zap.Error(err))
			continue
		}
		logger.Info("Seeded user", zap.String("username", u.username), zap.String("role", string(u.role)))
	}

	for _, d := range demoAssets {
		var count int64
		if err := a.db.WithContext(ctx).Model(&model.Asset{}).Where("ref = ?", d.ref).Count(&count).Error; err != nil {
			return fmt.Errorf("looking up asset %s: %w", d.ref, err)
		}
		if count > 0 {
			continue
		}
		asset := &model.Asset{
			Ref:              d.ref,
			Name:             d.name,
			CurrentProjectID: projectIDs[d.project],
			Status:           model.AssetAvailable,
			AcquisitionCost:  decimal.RequireFromString(d.cost),
		}
		if err := a.assets.Create(ctx, asset); err != nil {
			return fmt.Errorf("creating asset %s: %w", d.ref, err)
		}
		logger.Info("Seeded asset", zap.String("ref", d.ref))
	}
	return nil
}
