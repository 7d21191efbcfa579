package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var env ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env.Error
}

func TestWriteSuccessWrapsData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"orderId": "ord-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"orderId":"ord-1"}}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, []int{1})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"data":[1]}`, w.Body.String())
}

func TestWriteErrorExposesClientFacingMessage(t *testing.T) {
	w := httptest.NewRecorder()
	shortfall := map[string]any{"variantId": "v-9", "available": 0}
	WriteError(context.Background(), nil, w,
		pkgerrors.New(pkgerrors.CodeInsufficientStock, "size M is sold out").WithDetails(shortfall))

	assert.Equal(t, http.StatusConflict, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "INSUFFICIENT_STOCK", apiErr.Code)
	assert.Equal(t, "size M is sold out", apiErr.Message)
	assert.Equal(t, map[string]any{"variantId": "v-9", "available": float64(0)}, apiErr.Details)
}

func TestWriteErrorStatusFollowsTaxonomy(t *testing.T) {
	for code, want := range map[pkgerrors.Code]int{
		pkgerrors.CodeValidation:      http.StatusBadRequest,
		pkgerrors.CodeStateConflict:   http.StatusConflict,
		pkgerrors.CodeAmbiguousStatus: http.StatusAccepted,
		pkgerrors.CodeGateway:         http.StatusBadGateway,
		pkgerrors.CodeNotFound:        http.StatusNotFound,
		pkgerrors.CodeRateLimit:       http.StatusTooManyRequests,
		pkgerrors.CodeDependency:      http.StatusServiceUnavailable,
	} {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, pkgerrors.New(code, "x"))
		assert.Equal(t, want, w.Code, code)
	}
}

func TestWriteErrorHidesGatewayInternals(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeGateway, "toyyibpay said secret-key invalid").
		WithDetails(map[string]string{"body": "raw"})
	WriteError(context.Background(), nil, w, err)

	apiErr := decodeError(t, w)
	assert.Equal(t, "payment gateway unavailable", apiErr.Message)
	assert.Nil(t, apiErr.Details)
}

func TestWriteErrorTreatsUntypedAsInternal(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	w := httptest.NewRecorder()
	WriteError(context.Background(), logg, w, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.Nil(t, apiErr.Details)
	assert.Contains(t, buf.String(), "request.error")
	assert.Contains(t, buf.String(), "boom")
}

func TestWriteErrorLogsRejectionWithOrderID(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid").
		WithDetails(map[string]any{"orderId": "ord-42"})
	WriteError(context.Background(), logg, w, err)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, buf.String(), "request.rejected")
	assert.Contains(t, buf.String(), "ord-42")
}

func TestWriteRedirectUsesSeeOther(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/thank-you/x", nil)
	WriteRedirect(w, r, "/catalog?message=payment_failed")

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/catalog?message=payment_failed", w.Header().Get("Location"))
}
