package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/tiendita/tiendita/internal/billing/domain"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
)

type invoiceStatusResponse struct {
	InvoiceID string `json:"invoice_id"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// HandleInvoiceStatus is the polling endpoint behind the confirmation page.
// The page keeps asking until the webhook flips the invoice to paid.
func (s *Server) HandleInvoiceStatus(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "unauthenticated"})
		return
	}

	invoiceID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		abortWithError(c, settlementdomain.ErrInvalidRequest)
		return
	}

	invoice, err := s.store.FindInvoice(c.Request.Context(), s.db, invoiceID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if invoice.UserID != userID {
		abortWithError(c, billingdomain.ErrInvoiceNotFound)
		return
	}

	c.JSON(http.StatusOK, invoiceStatusResponse{
		InvoiceID: invoice.ID.String(),
		Number:    invoice.Number,
		Status:    string(invoice.Status),
		Amount:    invoice.Amount,
		Currency:  string(invoice.Currency),
	})
}

func (s *Server) HandleWalletBalance(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "unauthenticated"})
		return
	}

	currency := catalogdomain.Currency(strings.ToUpper(c.DefaultQuery("currency", string(catalogdomain.CurrencyUSD))))
	if !currency.Valid() {
		abortWithError(c, settlementdomain.ErrInvalidRequest)
		return
	}

	amount, err := s.walletSvc.Balance(c.Request.Context(), userID, currency)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID.String(),
		"currency": string(currency),
		"amount":   amount,
	})
}

// HandleCancelSubscription runs the cancellation cascade. A subscription the
// caller does not own reads as not found so the endpoint does not leak other
// users' ids.
func (s *Server) HandleCancelSubscription(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "unauthenticated"})
		return
	}

	subscriptionID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		abortWithError(c, settlementdomain.ErrInvalidRequest)
		return
	}

	if err := s.subsSvc.Cancel(c.Request.Context(), subscriptionID, userID); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_id": subscriptionID.String(),
		"status":          "canceled",
	})
}
