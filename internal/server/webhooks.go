package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
	"go.uber.org/zap"
)

const webhookBodyLimit = 1 << 20 // 1MiB

// HandleStripeWebhook is the Stripe front door. A bad signature gets 400 so
// Stripe retries with backoff; everything we intentionally ignore gets 200
// so it never retries an event we will not process.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_body"})
		return
	}

	ctx := c.Request.Context()
	if err := s.stripeAdapter.Verify(ctx, payload, c.Request.Header); err != nil {
		s.recordWebhook("stripe", "invalid_signature")
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid_signature"})
		return
	}

	event, err := s.stripeAdapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, settlementdomain.ErrEventIgnored) {
			s.recordWebhook("stripe", "ignored")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		s.log.Warn("stripe webhook dropped", zap.Error(err))
		s.recordWebhook("stripe", "invalid_payload")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	s.applyEvent(c, "stripe", event)
}

// HandlePayPalIPN is fire-and-forget per the IPN protocol: PayPal only wants
// a 200. Verification failures and unmatched ids are logged and dropped.
func (s *Server) HandlePayPalIPN(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.Status(http.StatusOK)
		return
	}

	event, err := s.ipnAdapter.Parse(c.Request.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, settlementdomain.ErrInvalidSignature):
			s.log.Warn("ipn postback not verified")
			s.recordWebhook("paypal_ipn", "not_verified")
		case errors.Is(err, settlementdomain.ErrEventIgnored):
			s.recordWebhook("paypal_ipn", "ignored")
		default:
			s.log.Warn("ipn payload dropped", zap.Error(err))
			s.recordWebhook("paypal_ipn", "invalid_payload")
		}
		c.Status(http.StatusOK)
		return
	}

	s.applyEvent(c, "paypal_ipn", event)
}

// applyEvent routes an authenticated provider event to the right settlement
// path and writes the provider-appropriate response.
func (s *Server) applyEvent(c *gin.Context, provider string, event *settlementdomain.Event) {
	ctx := c.Request.Context()

	var (
		outcome settlementdomain.Outcome
		err     error
	)
	if event.TopUpID != 0 {
		req := event.Request
		outcome, err = s.walletSvc.SettleTopUp(ctx, event.TopUpID, req.Provider, req.ProviderRef, req.AmountObserved, req.CurrencyObserved, req.AmountTolerance)
	} else {
		outcome, err = s.settlementSvc.Settle(ctx, event.Request)
	}

	if err != nil {
		if errors.Is(err, settlementdomain.ErrPoolExhausted) || errors.Is(err, settlementdomain.ErrAlreadyOwned) {
			// Operator-visible failure; the provider must not keep
			// retrying a settlement that cannot deliver.
			s.recordWebhook(provider, string(outcome.Reason))
			c.JSON(http.StatusOK, gin.H{"status": "failed", "reason": string(outcome.Reason)})
			return
		}
		s.log.Error("settlement failed", zap.String("provider", provider), zap.Error(err))
		s.recordWebhook(provider, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	s.recordWebhook(provider, "ok")
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) recordWebhook(provider, result string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordWebhook(provider, result)
}
