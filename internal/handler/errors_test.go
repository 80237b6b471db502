package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gear-rental/internal/availability"
	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/service"
)

func TestRespondError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", &service.ValidationError{FieldErrors: map[string]string{"trip_name": "required"}}, http.StatusBadRequest, `"trip_name":"required"`},
		{"not found", fmt.Errorf("load: %w", service.ErrNotFound), http.StatusNotFound, "not found"},
		{"booking conflict", &service.ConflictError{Conflicts: []availability.Conflict{{GearName: "Tent"}}}, http.StatusConflict, `"gear":["Tent"]`},
		{"status conflict", &service.ConflictError{Current: model.StatusReturned, Attempted: model.StatusApproved}, http.StatusConflict, `"current_status":"RETURNED"`},
		{"credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
		{"unauthenticated", service.ErrUnauthenticated, http.StatusUnauthorized, "authentication required"},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"pending", service.ErrPendingApproval, http.StatusForbidden, "pending approval"},
		{"disabled", service.ErrAccountDisabled, http.StatusForbidden, "disabled"},
		{"email taken", service.ErrEmailExists, http.StatusConflict, "email already exists"},
		{"storage", errors.New("dial tcp 10.0.0.3:3306: connection refused"), http.StatusInternalServerError, "internal server error"},
	}
	e := echo.New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			require.NoError(t, respondError(c, tc.err))
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
			assert.NotContains(t, rec.Body.String(), "10.0.0.3")
		})
	}
}

func TestValidator_FieldPaths(t *testing.T) {
	v := NewValidator()
	req := createRequestReq{Items: []model.ItemLine{{GearItemID: 3, Quantity: 1}, {GearItemID: 0, Quantity: 0}}}

	err := v.Validate(&req)
	var vErr *service.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "is required", vErr.FieldErrors["items[1].gear_id"])
	assert.Contains(t, vErr.FieldErrors, "items[1].quantity")
	assert.NotContains(t, vErr.FieldErrors, "items[0].gear_id")

	assert.NoError(t, v.Validate(&loginReq{Email: "a@example.com", Password: "pw"}))
}

func TestPathID(t *testing.T) {
	e := echo.New()
	for raw, ok := range map[string]bool{"7": true, "0": false, "-1": false, "x": false} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(raw)
		id, err := pathID(c)
		if ok {
			assert.NoError(t, err, raw)
			assert.EqualValues(t, 7, id)
		} else {
			assert.Error(t, err, raw)
		}
	}
}

func TestReady(t *testing.T) {
	e := echo.New()
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("refused") })

	rec := httptest.NewRecorder()
	require.NoError(t, Ready(map[string]Pinger{"database": up})(e.NewContext(httptest.NewRequest(http.MethodGet, "/readyz", nil), rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, Ready(map[string]Pinger{"database": up, "redis": down})(e.NewContext(httptest.NewRequest(http.MethodGet, "/readyz", nil), rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := decodeBody(t, rec)["checks"].(map[string]any)
	assert.Equal(t, "up", checks["database"])
	assert.Equal(t, "down", checks["redis"])
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
