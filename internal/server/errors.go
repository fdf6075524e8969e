package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/tiendita/tiendita/internal/billing/domain"
	catalogdomain "github.com/tiendita/tiendita/internal/catalog/domain"
	settlementdomain "github.com/tiendita/tiendita/internal/settlement/domain"
	subscriptiondomain "github.com/tiendita/tiendita/internal/subscription/domain"
	walletdomain "github.com/tiendita/tiendita/internal/wallet/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func abortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: payload})
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, billingdomain.ErrInvoiceNotFound),
		errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, walletdomain.ErrTopUpNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}
	case errors.Is(err, settlementdomain.ErrBelowMinimum):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "amount below provider minimum"}
	case errors.Is(err, settlementdomain.ErrInvalidRequest),
		errors.Is(err, settlementdomain.ErrInvalidProvider),
		errors.Is(err, settlementdomain.ErrInvalidCustomID):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "invalid request"}
	case errors.Is(err, settlementdomain.ErrPoolExhausted):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "shared delivery pool exhausted"}
	case errors.Is(err, settlementdomain.ErrAlreadyOwned):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "product already owned"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// requestUserID reads the user identity propagated by the out-of-scope
// session middleware.
func requestUserID(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}
