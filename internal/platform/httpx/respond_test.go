package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/shared"
)

func TestRespondErrorCarriesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	errDup := shared.NewError(shared.ErrConflict, "PHONE_NUMBER_ALREADY_EXISTS", "phone already registered")
	RespondError(rec, fmt.Errorf("sales: create customer: %w", errDup))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PHONE_NUMBER_ALREADY_EXISTS", body.Code)
	require.Equal(t, http.StatusConflict, body.Status)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Detail)
	require.Equal(t, "INTERNAL_ERROR", body.Code)
}

func TestStatusForKinds(t *testing.T) {
	require.Equal(t, http.StatusNotFound, StatusFor(shared.ErrNotFound))
	require.Equal(t, http.StatusConflict, StatusFor(shared.ErrInsufficientStock))
	require.Equal(t, http.StatusBadRequest, StatusFor(shared.ErrBranchNotFound))
	require.Equal(t, http.StatusBadGateway, StatusFor(shared.ErrCarrier))
	require.Equal(t, http.StatusBadRequest, StatusFor(shared.FieldInvalid("phone", "vnphone")))
}
