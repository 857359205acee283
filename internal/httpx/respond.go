package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-grocery-orders/internal/catalog"
	"github.com/ariefcatur/go-grocery-orders/internal/inventory"
	"github.com/ariefcatur/go-grocery-orders/internal/orders"
	"github.com/go-playground/validator/v10"
)

var errStoreClosed = errors.New("store is closed")

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details any               `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Anything unrecognised is a
// 500 with an opaque message; the real error only goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		invalid      *inventory.InvalidOrderItemError
		notFound     *inventory.ProductNotFoundError
		insufficient *inventory.InsufficientStockError
		transition   *orders.TransitionError
	)
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_order_item", Message: invalid.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "product_not_found", Message: notFound.Error(),
			Details: map[string]any{"productIds": notFound.IDs}})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, errorBody{Error: "insufficient_stock", Message: insufficient.Error(),
			Details: map[string]any{"productId": insufficient.ProductID, "requested": insufficient.Requested, "available": insufficient.Available}})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_transition", Message: transition.Error()})
	case errors.Is(err, orders.ErrCustomerNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "customer_not_found", Message: err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "order_not_found", Message: err.Error()})
	case errors.Is(err, orders.ErrPaymentPending):
		writeJSON(w, http.StatusConflict, errorBody{Error: "payment_pending", Message: err.Error()})
	case errors.Is(err, orders.ErrPaymentNotVerified):
		writeJSON(w, http.StatusConflict, errorBody{Error: "payment_not_verified", Message: err.Error()})
	case errors.Is(err, errStoreClosed):
		writeJSON(w, http.StatusConflict, errorBody{Error: "store_closed", Message: err.Error()})
	case errors.Is(err, orders.ErrNothingToUpdate),
		errors.Is(err, orders.ErrCancelReasonRequired),
		errors.Is(err, orders.ErrPaymentStatusUnsupported),
		errors.Is(err, catalog.ErrNegativeStock):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	default:
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "something went wrong"})
	}
}

// bindAndValidate decodes the JSON body into out and runs struct validation.
// On failure it has already written the 400 response.
func bindAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request_body", Message: err.Error()})
		return false
	}
	if err := v.Struct(out); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Fields: validationErrorsToMap(err)})
		return false
	}
	return true
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Namespace()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
