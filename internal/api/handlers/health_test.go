package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hugh/go-reclaim/internal/api/handlers"
	"github.com/hugh/go-reclaim/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestHealthHandler_Health(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		h := handlers.NewHealthHandler(testutil.SetupTestDB(t), fakePinger{})

		rr := httptest.NewRecorder()
		h.Health(rr, httptest.NewRequest("GET", "/health", nil))

		testutil.AssertStatus(t, rr, http.StatusOK)
		var resp handlers.HealthResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, map[string]string{"database": "healthy", "redis": "healthy"}, resp.Services)
	})

	t.Run("without redis", func(t *testing.T) {
		h := handlers.NewHealthHandler(testutil.SetupTestDB(t), nil)

		rr := httptest.NewRecorder()
		h.Health(rr, httptest.NewRequest("GET", "/health", nil))

		testutil.AssertStatus(t, rr, http.StatusOK)
		var resp handlers.HealthResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.NotContains(t, resp.Services, "redis")
	})

	t.Run("database ping fails", func(t *testing.T) {
		db, mock := mockDB(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		h := handlers.NewHealthHandler(db, fakePinger{})

		rr := httptest.NewRecorder()
		h.Health(rr, httptest.NewRequest("GET", "/health", nil))

		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		var resp handlers.HealthResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "unhealthy", resp.Services["database"])
		assert.Equal(t, "healthy", resp.Services["redis"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis ping fails", func(t *testing.T) {
		db, mock := mockDB(t)
		mock.ExpectPing()
		h := handlers.NewHealthHandler(db, fakePinger{err: errors.New("dial tcp: i/o timeout")})

		rr := httptest.NewRecorder()
		h.Health(rr, httptest.NewRequest("GET", "/health", nil))

		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		var resp handlers.HealthResponse
		testutil.ParseJSONResponse(t, rr, &resp)
		assert.Equal(t, "healthy", resp.Services["database"])
		assert.Equal(t, "unhealthy", resp.Services["redis"])
	})
}

func TestHealthHandler_Ready(t *testing.T) {
	h := handlers.NewHealthHandler(nil, nil)

	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest("GET", "/ready", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}
