// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"time"

	"vtupay/internal/handlers"
	"vtupay/internal/middleware"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/auth"
	"vtupay/internal/services/notification"
	"vtupay/internal/services/otp"
	"vtupay/internal/services/wallet"
	"vtupay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"
)

// Dependencies are the services the HTTP layer is built from.
type Dependencies struct {
	Auth     auth.Service
	OTP      otp.Service
	Notifier notification.Notifier
	Wallet   wallet.Service
	Users    repositories.UserRepository
	Gateway  handlers.FundingGateway
	Webhooks handlers.EventProcessor
	Limits   wallet.Config
	Health   map[string]handlers.HealthCheck
	// Metrics, when set, is mounted at GET /metrics.
	Metrics fiber.Handler
	Logger  *zap.Logger
	// AuthRateLimit caps credential endpoints per client IP per minute.
	// Zero disables the limiter.
	AuthRateLimit int
}

// SetupRoutes configures all application routes.
// It groups routes by functionality and applies appropriate middleware.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	authHandler := handlers.NewAuthHandler(deps.Auth, deps.OTP, deps.Notifier, deps.Logger)
	userHandler := handlers.NewUserHandler(deps.Auth)
	walletHandler := handlers.NewWalletHandler(deps.Wallet, deps.Gateway, deps.Limits, deps.Logger)
	vtuHandler := handlers.NewVTUHandler(deps.Wallet, deps.Logger)
	adminHandler := handlers.NewAdminHandler(deps.Wallet, deps.Users, deps.Logger)
	webhookHandler := handlers.NewWebhookHandler(deps.Webhooks, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.Health)

	app.Get("/health", healthHandler.Check)
	if deps.Metrics != nil {
		app.Get("/metrics", deps.Metrics)
	}

	api := app.Group("/api")

	// Gateway callbacks authenticate with their signature, not a token.
	api.Post("/webhooks/gateway", webhookHandler.HandleGateway)

	authMiddleware := middleware.NewAuthMiddleware(deps.Auth, deps.Auth, deps.Logger)
	setupAuthRoutes(api, authHandler, userHandler, authMiddleware, deps.AuthRateLimit)

	requireAuth := authMiddleware.Handler
	setupUserRoutes(api, requireAuth, userHandler, authHandler)
	setupWalletRoutes(api, requireAuth, walletHandler)
	setupVTURoutes(api, requireAuth, vtuHandler)
	setupAdminRoutes(api, requireAuth, adminHandler)

	app.Use(func(c *fiber.Ctx) error {
		return response.Error(c, fiber.StatusNotFound, "route not found")
	})
}

func setupAuthRoutes(api fiber.Router, h *handlers.AuthHandler, userHandler *handlers.UserHandler, authMiddleware *middleware.AuthMiddleware, rateLimit int) {
	group := api.Group("/auth")
	if rateLimit > 0 {
		group.Use(limiter.New(limiter.Config{
			Max:        rateLimit,
			Expiration: time.Minute,
			LimitReached: func(c *fiber.Ctx) error {
				return response.Error(c, fiber.StatusTooManyRequests, "too many requests")
			},
		}))
	}

	group.Post("/register", userHandler.RegisterUser)
	group.Post("/login", h.LoginUser)
	group.Post("/refresh", h.RefreshToken)
	group.Post("/logout", h.LogoutUser)
	group.Post("/otp", h.RequestOTP)
	group.Post("/otp/verify", h.VerifyOTP)
	group.Post("/verify-email/request", authMiddleware.Handler, h.RequestEmailVerification)
	group.Post("/verify-email", h.VerifyEmail)
	group.Post("/password/forgot", h.ForgotPassword)
	group.Post("/password/reset", h.ResetPassword)
}

func setupUserRoutes(router fiber.Router, requireAuth fiber.Handler, h *handlers.UserHandler, authHandler *handlers.AuthHandler) {
	user := router.Group("/user", requireAuth)
	user.Get("/profile", h.GetProfile)
	user.Post("/change-password", middleware.HasPermission(models.PermissionChangePassword), authHandler.ChangePassword)
}

func setupWalletRoutes(router fiber.Router, requireAuth fiber.Handler, h *handlers.WalletHandler) {
	w := router.Group("/wallet", requireAuth)
	w.Get("/", middleware.HasPermission(models.PermissionWalletRead), h.GetWallet)
	w.Get("/transactions", middleware.HasPermission(models.PermissionTransactionRead), h.GetTransactions)
	w.Get("/audit", middleware.HasPermission(models.PermissionWalletRead), h.AuditWallet)
	w.Post("/transfer", middleware.HasPermission(models.PermissionWalletWrite), h.Transfer)
	w.Post("/fund", middleware.HasPermission(models.PermissionWalletWrite), h.FundWallet)
}

func setupVTURoutes(router fiber.Router, requireAuth fiber.Handler, h *handlers.VTUHandler) {
	v := router.Group("/vtu", requireAuth)
	v.Get("/plans", h.ListPlans)
	v.Post("/airtime", middleware.HasPermission(models.PermissionVTUPurchase), h.BuyAirtime)
	v.Post("/data", middleware.HasPermission(models.PermissionVTUPurchase), h.BuyData)
}

func setupAdminRoutes(router fiber.Router, requireAuth fiber.Handler, h *handlers.AdminHandler) {
	admin := router.Group("/admin", requireAuth, middleware.AdminOnly)

	admin.Get("/users", middleware.HasPermission(models.PermissionReadAdmin), h.GetUsersPaginated)
	admin.Patch("/users/:id/status", middleware.HasPermission(models.PermissionWriteAdmin), h.SetUserStatus)
	admin.Get("/users/:id/audit", middleware.HasPermission(models.PermissionReadAdmin), h.AuditUserWallet)

	tx := admin.Group("/transactions/:id", middleware.HasPermission(models.PermissionWriteAdmin))
	tx.Post("/reconcile", h.ReconcileTransaction)
	tx.Post("/refund", h.RefundTransaction)
	tx.Post("/cancel", h.CancelTransaction)

	admin.Post("/reconcile", middleware.HasPermission(models.PermissionWriteAdmin), h.ReconcileStale)
}
