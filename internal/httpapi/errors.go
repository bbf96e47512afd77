package httpapi

import (
	"errors"
	"net/http"

	"numbershop/internal/catalog"
	"numbershop/internal/ledger"
	"numbershop/internal/order"
	"numbershop/internal/provider"

	"github.com/gin-gonic/gin"
)

// writeError maps domain sentinels onto HTTP statuses. Unknown errors become
// a generic 500; internals never leak to clients.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		abort(c, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, ledger.ErrAccountSuspended):
		abort(c, http.StatusForbidden, "account suspended")
	case errors.Is(err, order.ErrNotOrderOwner):
		// Hidden as 404: clients must not learn that someone else's order exists.
		abort(c, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrOrderNotFound):
		abort(c, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrOrderNotActive), errors.Is(err, order.ErrStatusConflict):
		abort(c, http.StatusConflict, "order is not in a state that allows this operation")
	case errors.Is(err, order.ErrPurchasePending):
		abort(c, http.StatusAccepted, "purchase outcome pending, check the order status later")
	case errors.Is(err, catalog.ErrServiceNotFound):
		abort(c, http.StatusNotFound, "service not found")
	case errors.Is(err, catalog.ErrServiceDisabled):
		abort(c, http.StatusConflict, "service is disabled")
	case errors.Is(err, catalog.ErrInvalidEntry),
		errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, order.ErrInvalidRequest),
		errors.Is(err, provider.ErrInvalidParameters):
		abort(c, http.StatusBadRequest, "invalid request")
	case errors.Is(err, ledger.ErrNotFound):
		abort(c, http.StatusNotFound, "not found")
	case errors.Is(err, provider.ErrOutOfStock):
		abort(c, http.StatusConflict, "no numbers available for this service and country")
	case errors.Is(err, provider.ErrProviderUnavailable):
		abort(c, http.StatusBadGateway, "provisioning provider unavailable")
	default:
		abort(c, http.StatusInternalServerError, "internal error")
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
