package handlers

import (
	"context"
	"errors"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"
	"vtupay/internal/services/webhook"
	"vtupay/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// EventProcessor applies a signed gateway callback.
type EventProcessor interface {
	HandleProviderEvent(ctx context.Context, rawBody []byte, signature string) (webhook.Outcome, error)
}

type WebhookHandler struct {
	processor EventProcessor
	logger    *zap.Logger
}

func NewWebhookHandler(processor EventProcessor, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger.OrNop(log)}
}

// HandleGateway acknowledges every authenticated event it could settle,
// including duplicates and rejections. A wallet that stays busy gets the
// domain error's retryable status; other processing failures get a 500.
// Both make the gateway redeliver.
func (h *WebhookHandler) HandleGateway(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer once the handler returns.
	body := append([]byte(nil), c.Body()...)

	outcome, err := h.processor.HandleProviderEvent(c.UserContext(), body, c.Get(webhook.SignatureHeader))
	switch {
	case errors.Is(err, apperrors.ErrInvalidSignature):
		return response.Error(c, fiber.StatusUnauthorized, "invalid signature")
	case apperrors.IsRetryable(err):
		h.logger.Warn("webhook deferred", zap.Error(err))
		return response.FromError(c, err)
	case err != nil:
		h.logger.Error("webhook processing failed", zap.Error(err))
		return response.ServerError(c, "processing failed")
	}
	return c.JSON(fiber.Map{"status": outcome})
}
