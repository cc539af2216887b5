// Package otp issues and verifies short-lived one-time codes and email
// verification credentials. Only bcrypt hashes are stored, always with a TTL.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxAttempts = 5
	codeDigits         = 6
)

// Store is the subset of the expiring store used for OTP state.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
	// DeleteIfEquals consumes a secret; only one concurrent caller wins.
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	BcryptCost  int
}

type Service interface {
	IssueOTP(ctx context.Context, identifier string) (string, error)
	VerifyOTP(ctx context.Context, code, identifier string) (bool, error)
	IssueEmailVerification(ctx context.Context, identifier string) (*EmailVerification, error)
	VerifyEmailVerification(ctx context.Context, code, token, identifier string) (bool, error)
}

// EmailVerification holds the plaintext credentials to deliver to the user.
type EmailVerification struct {
	Code  string
	Token string
}

// verificationRecord is what is persisted; it never holds plaintext.
type verificationRecord struct {
	OTPHash   string `json:"otp"`
	TokenHash string `json:"token"`
}

type service struct {
	store  Store
	config Config
	logger *zap.Logger
}

func NewService(store Store, config Config, log *zap.Logger) Service {
	if store == nil {
		panic("otp store is required")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &service{store: store, config: config, logger: logger.OrNop(log)}
}

func otpKey(identifier string) string                  { return "otp:" + identifier }
func otpAttemptsKey(identifier string) string          { return "otp:attempts:" + identifier }
func verificationKey(identifier string) string         { return "verification:" + identifier }
func verificationAttemptsKey(identifier string) string { return "verification:attempts:" + identifier }

// IssueOTP generates a fresh code for identifier, replacing any previous one.
func (s *service) IssueOTP(ctx context.Context, identifier string) (string, error) {
	if identifier == "" {
		return "", fmt.Errorf("otp identifier is required")
	}
	code, err := GenerateCode(codeDigits)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash otp: %w", err)
	}

	if err := s.store.Set(ctx, otpKey(identifier), string(hash), s.config.TTL); err != nil {
		return "", apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if err := s.store.Delete(ctx, otpAttemptsKey(identifier)); err != nil {
		s.logger.Warn("failed to reset otp attempts", zap.String("identifier", identifier), zap.Error(err))
	}

	s.logger.Info("otp issued", zap.String("identifier", identifier), zap.Duration("ttl", s.config.TTL))
	return code, nil
}

// VerifyOTP checks code for identifier. A missing or expired entry is a
// plain false. A match consumes the code; repeated misses invalidate it.
func (s *service) VerifyOTP(ctx context.Context, code, identifier string) (bool, error) {
	hash, found, err := s.store.Get(ctx, otpKey(identifier))
	if err != nil {
		return false, apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if !found {
		return false, nil
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) != nil {
		s.recordMiss(ctx, identifier, otpAttemptsKey(identifier), otpKey(identifier))
		return false, nil
	}

	return s.consume(ctx, identifier, otpKey(identifier), hash, otpAttemptsKey(identifier))
}

// IssueEmailVerification stores a code and a link token for identifier.
// Either one verifies.
func (s *service) IssueEmailVerification(ctx context.Context, identifier string) (*EmailVerification, error) {
	if identifier == "" {
		return nil, fmt.Errorf("verification identifier is required")
	}
	code, err := GenerateCode(codeDigits)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()

	otpHash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash otp: %w", err)
	}
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(token), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash token: %w", err)
	}

	record := verificationRecord{OTPHash: string(otpHash), TokenHash: string(tokenHash)}
	if err := s.store.SetJSON(ctx, verificationKey(identifier), record, s.config.TTL); err != nil {
		return nil, apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if err := s.store.Delete(ctx, verificationAttemptsKey(identifier)); err != nil {
		s.logger.Warn("failed to reset verification attempts", zap.String("identifier", identifier), zap.Error(err))
	}
	return &EmailVerification{Code: code, Token: token}, nil
}

func (s *service) VerifyEmailVerification(ctx context.Context, code, token, identifier string) (bool, error) {
	raw, found, err := s.store.Get(ctx, verificationKey(identifier))
	if err != nil {
		return false, apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if !found {
		return false, nil
	}
	var record verificationRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.logger.Warn("discarding unreadable verification record", zap.String("identifier", identifier), zap.Error(err))
		return false, nil
	}

	matched := (code != "" && bcrypt.CompareHashAndPassword([]byte(record.OTPHash), []byte(code)) == nil) ||
		(token != "" && bcrypt.CompareHashAndPassword([]byte(record.TokenHash), []byte(token)) == nil)
	if !matched {
		s.recordMiss(ctx, identifier, verificationAttemptsKey(identifier), verificationKey(identifier))
		return false, nil
	}

	return s.consume(ctx, identifier, verificationKey(identifier), raw, verificationAttemptsKey(identifier))
}

// consume deletes the secret only if it still holds the value that was
// matched. A concurrent verifier that got there first makes this a miss.
func (s *service) consume(ctx context.Context, identifier, secretKey, value, attemptsKey string) (bool, error) {
	consumed, err := s.store.DeleteIfEquals(ctx, secretKey, value)
	if err != nil {
		return false, apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if !consumed {
		s.logger.Info("code already used", zap.String("identifier", identifier))
		return false, nil
	}
	if err := s.store.Delete(ctx, attemptsKey); err != nil {
		s.logger.Warn("failed to reset attempts", zap.String("identifier", identifier), zap.Error(err))
	}
	return true, nil
}

func (s *service) recordMiss(ctx context.Context, identifier, attemptsKey, secretKey string) {
	n, err := s.store.Incr(ctx, attemptsKey, s.config.TTL)
	if err != nil {
		s.logger.Warn("failed to count failed attempt", zap.String("identifier", identifier), zap.Error(err))
		return
	}
	if n >= int64(s.config.MaxAttempts) {
		s.logger.Warn("too many failed attempts, invalidating code",
			zap.String("identifier", identifier), zap.Int64("attempts", n))
		if err := s.store.Delete(ctx, secretKey, attemptsKey); err != nil {
			s.logger.Warn("failed to invalidate code", zap.String("identifier", identifier), zap.Error(err))
		}
	}
}

// GenerateCode returns a uniformly random numeric code of the given length.
func GenerateCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
