// Command admin_seed creates the first admin account and loads the data
// plan catalogue. It is safe to run repeatedly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	stdlog "log"
	"os"
	"strings"
	"time"

	"vtupay/internal/config"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/repositories"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// defaultPlans is used when PLANS_FILE is not set.
var defaultPlans = []models.DataPlan{
	{Code: "mtn-1gb-30d", Network: "mtn", Name: "MTN 1GB (30 days)", PriceMinor: 300_00, ValidityDays: 30, Active: true},
	{Code: "mtn-5gb-30d", Network: "mtn", Name: "MTN 5GB (30 days)", PriceMinor: 1_500_00, ValidityDays: 30, Active: true},
	{Code: "glo-1gb-14d", Network: "glo", Name: "Glo 1GB (14 days)", PriceMinor: 250_00, ValidityDays: 14, Active: true},
	{Code: "airtel-2gb-30d", Network: "airtel", Name: "Airtel 2GB (30 days)", PriceMinor: 600_00, ValidityDays: 30, Active: true},
	{Code: "9mobile-1gb-30d", Network: "9mobile", Name: "9mobile 1GB (30 days)", PriceMinor: 350_00, ValidityDays: 30, Active: true},
}

func main() {
	config.LoadEnv()
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		stdlog.Fatalf("failed to initialise logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	adminPhone := os.Getenv("ADMIN_PHONE")
	if adminEmail == "" || adminPassword == "" || adminPhone == "" {
		log.Fatal("ADMIN_EMAIL, ADMIN_PASSWORD, and ADMIN_PHONE must be set in environment")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := repositories.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			log.Warn("failed to close database connection", zap.Error(err))
		}
	}()
	if err := repositories.Migrate(db); err != nil {
		log.Fatal("failed to migrate schema", zap.Error(err))
	}

	users := repositories.NewUserRepository(db)
	if err := seedAdmin(ctx, users, adminEmail, adminPassword, adminPhone, log); err != nil {
		log.Fatal("failed to seed admin", zap.Error(err))
	}

	plans, err := loadPlans(os.Getenv("PLANS_FILE"))
	if err != nil {
		log.Fatal("failed to read plan catalogue", zap.Error(err))
	}
	if err := repositories.NewPlanRepository(db).Upsert(ctx, plans); err != nil {
		log.Fatal("failed to seed data plans", zap.Error(err))
	}
	log.Info("data plans seeded", zap.Int("count", len(plans)))
}

func seedAdmin(ctx context.Context, users repositories.UserRepository, email, password, phone string, log *zap.Logger) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := users.GetByEmail(ctx, email); err == nil {
		log.Info("admin user already exists", zap.String("email", email))
		return nil
	} else if !errors.Is(err, repositories.ErrUserNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &models.User{
		Name:          "Administrator",
		Email:         email,
		Phone:         phone,
		Handle:        "admin",
		Password:      string(hashed),
		Role:          models.RoleAdmin,
		Status:        models.UserStatusActive,
		EmailVerified: true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return err
	}
	log.Info("admin account created", zap.Uint("id", admin.ID), zap.String("email", email))
	return nil
}

// loadPlans reads a JSON array of plans, or returns the built-in catalogue
// when path is empty.
func loadPlans(path string) ([]models.DataPlan, error) {
	if path == "" {
		return defaultPlans, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var plans []models.DataPlan
	if err := json.Unmarshal(raw, &plans); err != nil {
		return nil, err
	}
	for i := range plans {
		plans[i].Network = strings.ToLower(plans[i].Network)
	}
	return plans, nil
}
