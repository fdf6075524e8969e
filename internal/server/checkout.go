package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
	"github.com/tiendita/tiendita/pkg/paypal"
	"go.uber.org/zap"
)

type createPayPalOrderRequest struct {
	InvoiceID string `json:"invoice_id"`
	TopUp     *struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"topup"`
}

type createPayPalOrderResponse struct {
	OrderID    string `json:"order_id"`
	ApproveURL string `json:"approve_url"`
}

// HandleCreatePayPalOrder starts a PayPal checkout for either a pending
// invoice or a wallet top-up. The provider minimum is enforced here, before
// any provider session exists.
func (s *Server) HandleCreatePayPalOrder(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "unauthenticated"})
		return
	}

	var req createPayPalOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, settlementdomain.ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	returnURL := s.cfg.BaseURL + "/api/checkout/paypal/return"
	cancelURL := s.cfg.BaseURL + "/checkout/canceled"

	var (
		customID string
		amount   int64
		currency catalogdomain.Currency
	)

	switch {
	case req.TopUp != nil:
		topup, err := s.walletSvc.CreateTopUp(ctx, userID, req.TopUp.Amount, catalogdomain.Currency(strings.ToUpper(req.TopUp.Currency)))
		if err != nil {
			abortWithError(c, err)
			return
		}
		customID = settlementdomain.TopUpCustomID(topup.ID)
		amount = topup.Amount
		currency = topup.Currency
	case strings.TrimSpace(req.InvoiceID) != "":
		invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
		if err != nil {
			abortWithError(c, settlementdomain.ErrInvalidRequest)
			return
		}
		invoice, err := s.store.FindInvoice(ctx, s.db, invoiceID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if invoice.UserID != userID || !invoice.Status.Settleable() {
			abortWithError(c, settlementdomain.ErrInvalidRequest)
			return
		}
		if err := settlementdomain.CheckMinimumCharge(invoice.Amount, invoice.Currency); err != nil {
			abortWithError(c, err)
			return
		}
		customID = settlementdomain.InvoiceCustomID(invoice.ID)
		amount = invoice.Amount
		currency = invoice.Currency
	default:
		abortWithError(c, settlementdomain.ErrInvalidRequest)
		return
	}

	order, err := s.paypalClient.CreateOrder(ctx, customID, paypal.FormatValue(amount), string(currency), returnURL, cancelURL)
	if err != nil {
		s.log.Error("paypal order create failed", zap.Error(err))
		abortWithError(c, err)
		return
	}
	approveURL, err := order.ApproveURL()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, createPayPalOrderResponse{OrderID: order.ID, ApproveURL: approveURL})
}

// HandlePayPalReturn completes an approved PayPal checkout: capture, then
// settle with the capture id as the provider reference. The buyer lands on
// the confirmation page, which polls settlement status instead of blocking.
func (s *Server) HandlePayPalReturn(c *gin.Context) {
	orderID := strings.TrimSpace(c.Query("token"))
	if orderID == "" {
		abortWithError(c, settlementdomain.ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	order, err := s.paypalClient.CaptureOrder(ctx, orderID)
	if err != nil {
		s.log.Error("paypal capture failed", zap.String("order_id", orderID), zap.Error(err))
		abortWithError(c, err)
		return
	}
	capture, err := order.FirstCapture()
	if err != nil {
		abortWithError(c, err)
		return
	}

	targetID, isTopUp, err := settlementdomain.ParseCustomID(capture.CustomID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var amount int64
	currency := catalogdomain.Currency("")
	if capture.Amount != nil {
		amount, err = paypal.ParseValue(capture.Amount.Value)
		if err != nil {
			abortWithError(c, settlementdomain.ErrInvalidRequest)
			return
		}
		currency = catalogdomain.Currency(strings.ToUpper(capture.Amount.CurrencyCode))
	}

	if isTopUp {
		if _, err := s.walletSvc.SettleTopUp(ctx, targetID, settlementdomain.ProviderPayPal, capture.ID, amount, currency, 0); err != nil {
			abortWithError(c, err)
			return
		}
		c.Redirect(http.StatusFound, s.cfg.BaseURL+"/checkout/confirmation?topup="+targetID.String())
		return
	}

	if _, err := s.settlementSvc.Settle(ctx, settlementdomain.Request{
		InvoiceID:        targetID,
		Provider:         settlementdomain.ProviderPayPal,
		ProviderRef:      capture.ID,
		Method:           settlementdomain.ProviderPayPal,
		AmountObserved:   amount,
		CurrencyObserved: currency,
	}); err != nil {
		abortWithError(c, err)
		return
	}
	c.Redirect(http.StatusFound, s.cfg.BaseURL+"/checkout/confirmation?invoice="+targetID.String())
}
