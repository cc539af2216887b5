// Package auth issues and verifies access/refresh token pairs, keeps the
// refresh token allowlist, and runs the password flows built on OTPs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/models"
	"vtupay/internal/repositories"
	"vtupay/internal/services/notification"
	"vtupay/internal/services/otp"
	"vtupay/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Store is the subset of the expiring store holding the refresh allowlist.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

type Config struct {
	AccessSecret        string
	RefreshSecret       string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Issuer              string
	RotateRefreshTokens bool
	BcryptCost          int
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Registration is the input for a new account.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type Service interface {
	Register(ctx context.Context, in Registration) (*models.User, error)
	Login(ctx context.Context, identifier, password, deviceID string) (*models.User, *TokenPair, error)
	IssueTokens(ctx context.Context, user *models.User, deviceID string) (*TokenPair, error)
	VerifyRefreshToken(ctx context.Context, token string) (*models.RefreshClaims, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	ParseAccessToken(token string) (*models.UserClaims, error)

	ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	RequestEmailVerification(ctx context.Context, userID uint) error
	VerifyEmail(ctx context.Context, email, code, token string) error

	GetUserByID(ctx context.Context, id uint) (*models.User, error)
}

type service struct {
	userRepo repositories.UserRepository
	store    Store
	otp      otp.Service
	notifier notification.Notifier
	config   Config
	logger   *zap.Logger
}

func NewService(
	userRepo repositories.UserRepository,
	store Store,
	otpService otp.Service,
	notifier notification.Notifier,
	config Config,
	log *zap.Logger,
) Service {
	if userRepo == nil {
		panic("user repository is required")
	}
	if store == nil {
		panic("token store is required")
	}
	if config.AccessSecret == "" || config.RefreshSecret == "" {
		panic("access and refresh secrets are required")
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = 24 * time.Hour
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 7 * 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "vtupay-api"
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &service{
		userRepo: userRepo,
		store:    store,
		otp:      otpService,
		notifier: notifier,
		config:   config,
		logger:   logger.OrNop(log),
	}
}

func refreshKey(token string) string { return "refresh:" + token }

// Register creates a user with an empty wallet and sends the email
// verification code.
func (s *service) Register(ctx context.Context, in Registration) (*models.User, error) {
	in.Handle = strings.TrimPrefix(strings.TrimSpace(in.Handle), "@")

	v := validation.New()
	v.Required("name", in.Name)
	v.Email("email", strings.TrimSpace(in.Email))
	v.Phone("phone", strings.TrimSpace(in.Phone))
	v.Handle("handle", in.Handle)
	v.Password("password", in.Password)
	if !v.Valid() {
		return nil, apperrors.ErrInvalidRequest.WithCause(v)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		Name:     strings.TrimSpace(in.Name),
		Email:    in.Email,
		Phone:    strings.TrimSpace(in.Phone),
		Handle:   in.Handle,
		Password: string(hashed),
		Role:     models.RoleUser,
		Status:   models.UserStatusActive,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			return nil, apperrors.ErrUserExists
		}
		return nil, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", user.ID), zap.String("handle", user.Handle))
	if err := s.RequestEmailVerification(ctx, user.ID); err != nil {
		s.logger.Warn("failed to send verification email", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

func (s *service) Login(ctx context.Context, identifier, password, deviceID string) (*models.User, *TokenPair, error) {
	user, err := s.getUserByIdentifier(ctx, identifier)
	if err != nil {
		s.logger.Info("login failed: unknown identifier", zap.String("identifier", identifier))
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.logger.Info("login failed: wrong password", zap.Uint("user_id", user.ID))
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, nil, apperrors.ErrInvalidCredentials.WithMessage("account is %s", user.Status)
	}

	pair, err := s.IssueTokens(ctx, user, deviceID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.userRepo.TouchLastLogin(ctx, user.ID, time.Now()); err != nil {
		s.logger.Warn("failed to record last login", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return user, pair, nil
}

// IssueTokens signs a new pair and allowlists the refresh token.
func (s *service) IssueTokens(ctx context.Context, user *models.User, deviceID string) (*TokenPair, error) {
	now := time.Now()
	subject := strconv.FormatUint(uint64(user.ID), 10)

	accessExp := now.Add(s.config.AccessTTL)
	access := jwt.NewWithClaims(jwt.SigningMethodHS256, models.UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(accessExp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
			Subject:   subject,
		},
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		DeviceID:    deviceID,
		Permissions: models.GetDefaultPermissions(user.Role),
	})
	accessToken, err := access.SignedString([]byte(s.config.AccessSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshExp := now.Add(s.config.RefreshTTL)
	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, models.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
			Subject:   subject,
		},
		UserID:   user.ID,
		DeviceID: deviceID,
	})
	refreshToken, err := refresh.SignedString([]byte(s.config.RefreshSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	if err := s.store.Set(ctx, refreshKey(refreshToken), subject, s.config.RefreshTTL); err != nil {
		return nil, apperrors.ErrStoreUnavailable.WithCause(err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyRefreshToken accepts a token only if its signature and expiry are
// valid and it is still on the allowlist for the same user.
func (s *service) VerifyRefreshToken(ctx context.Context, token string) (*models.RefreshClaims, error) {
	claims, err := s.parseRefreshToken(token)
	if err != nil {
		return nil, apperrors.ErrInvalidOrRevokedToken.WithCause(err)
	}

	stored, found, err := s.store.Get(ctx, refreshKey(token))
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if !found || stored != strconv.FormatUint(uint64(claims.UserID), 10) {
		return nil, apperrors.ErrInvalidOrRevokedToken
	}
	return claims, nil
}

// Refresh exchanges a valid refresh token for a new pair. With rotation on,
// the presented token is consumed atomically so it cannot be replayed.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.VerifyRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if s.config.RotateRefreshTokens {
		consumed, err := s.store.DeleteIfEquals(ctx, refreshKey(refreshToken), strconv.FormatUint(uint64(claims.UserID), 10))
		if err != nil {
			return nil, apperrors.ErrStoreUnavailable.WithCause(err)
		}
		if !consumed {
			return nil, apperrors.ErrInvalidOrRevokedToken
		}
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperrors.ErrInvalidOrRevokedToken
		}
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperrors.ErrInvalidOrRevokedToken
	}
	return s.IssueTokens(ctx, user, claims.DeviceID)
}

// RevokeRefreshToken removes the token from the allowlist. Revoking an
// unknown token is not an error.
func (s *service) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := s.store.Delete(ctx, refreshKey(token)); err != nil {
		return apperrors.ErrStoreUnavailable.WithCause(err)
	}
	return nil
}

func (s *service) ParseAccessToken(tokenString string) (*models.UserClaims, error) {
	claims := &models.UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.AccessSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil || !token.Valid {
		return nil, apperrors.ErrInvalidOrRevokedToken.WithCause(err)
	}
	return claims, nil
}

func (s *service) parseRefreshToken(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.RefreshSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid refresh token")
	}
	return claims, nil
}

func (s *service) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return apperrors.ErrUserNotFound.WithCause(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(oldPassword)); err != nil {
		return apperrors.ErrInvalidCredentials.WithMessage("invalid old password")
	}
	return s.setPassword(ctx, user.ID, newPassword)
}

// ForgotPassword sends a reset code to the account's email. Unknown emails
// succeed silently so the endpoint cannot be used to enumerate accounts.
func (s *service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return err
	}

	code, err := s.otp.IssueOTP(ctx, resetIdentifier(user.Email))
	if err != nil {
		return err
	}
	s.notify(ctx, notification.Email(notification.KindPasswordReset, user.Email,
		"Reset your password", fmt.Sprintf("Your password reset code is %s. It expires in 5 minutes.", code)))
	return nil
}

func (s *service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	// Reject weak passwords before spending the single-use code.
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return apperrors.ErrInvalidOTP
		}
		return err
	}

	ok, err := s.otp.VerifyOTP(ctx, code, resetIdentifier(user.Email))
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrInvalidOTP
	}
	return s.setPassword(ctx, user.ID, newPassword)
}

func (s *service) RequestEmailVerification(ctx context.Context, userID uint) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return apperrors.ErrUserNotFound.WithCause(err)
	}
	if user.EmailVerified {
		return nil
	}

	v, err := s.otp.IssueEmailVerification(ctx, user.Email)
	if err != nil {
		return err
	}
	s.notify(ctx, notification.Email(notification.KindEmailVerification, user.Email,
		"Verify your email", fmt.Sprintf("Your verification code is %s. Verification token: %s", v.Code, v.Token)))
	return nil
}

func (s *service) VerifyEmail(ctx context.Context, email, code, token string) error {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return apperrors.ErrInvalidOTP
		}
		return err
	}
	ok, err := s.otp.VerifyEmailVerification(ctx, code, token, user.Email)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrInvalidOTP
	}
	return s.userRepo.MarkEmailVerified(ctx, user.ID)
}

func (s *service) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func checkPassword(password string) error {
	v := validation.New()
	v.Password("password", password)
	if !v.Valid() {
		return apperrors.ErrWeakPassword.WithCause(v)
	}
	return nil
}

func (s *service) setPassword(ctx context.Context, userID uint, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.userRepo.UpdatePassword(ctx, userID, string(hashed))
}

func (s *service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("failed to queue notification", zap.String("kind", msg.Kind), zap.Error(err))
	}
}

func (s *service) getUserByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	switch {
	case strings.Contains(identifier, "@") && !strings.HasPrefix(identifier, "@"):
		return s.userRepo.GetByEmail(ctx, identifier)
	case validation.IsPhone(identifier):
		return s.userRepo.GetByPhone(ctx, identifier)
	default:
		return s.userRepo.GetByHandle(ctx, identifier)
	}
}

func resetIdentifier(email string) string { return "reset:" + email }
