package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func callReadiness(t *testing.T, handler *HealthHandler) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	handler.HandleReadiness(w, req)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w, response["data"].(map[string]interface{})
}

func TestHandleHealth(t *testing.T) {
	handler := NewHealthHandler(zap.NewNop(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	assert.NotEmpty(t, data["timestamp"])
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("ready when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		handler := NewHealthHandler(logger, map[string]ReadinessCheck{
			"database": DatabaseCheck(db),
		})

		w, data := callReadiness(t, handler)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not ready when database query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(sql.ErrConnDone)

		handler := NewHealthHandler(logger, map[string]ReadinessCheck{
			"database": DatabaseCheck(db),
		})

		w, data := callReadiness(t, handler)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "unhealthy", checks["database"])
	})

	t.Run("one failing check marks the whole response", func(t *testing.T) {
		handler := NewHealthHandler(logger, map[string]ReadinessCheck{
			"store":   func(context.Context) error { return nil },
			"catalog": func(context.Context) error { return errors.New("not loaded") },
		})

		w, data := callReadiness(t, handler)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["store"])
		assert.Equal(t, "unhealthy", checks["catalog"])
	})

	t.Run("ready with no checks configured", func(t *testing.T) {
		handler := NewHealthHandler(logger, nil)

		w, _ := callReadiness(t, handler)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
