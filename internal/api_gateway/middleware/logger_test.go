package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newBufferedRouter(buf *bytes.Buffer) *gin.Engine {
	testLogger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	router := gin.New()
	router.Use(CorrelationID())
	router.Use(Logger(testLogger))
	return router
}

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("LogsRequestDetails", func(t *testing.T) {
		var logBuffer bytes.Buffer
		router := newBufferedRouter(&logBuffer)
		router.GET("/wallets/:identity/ledger", func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		})

		req, _ := http.NewRequest(http.MethodGet, "/wallets/user-1/ledger?page=2", nil)
		req.Header.Set("User-Agent", "test-agent")
		testCorrelationID := uuid.New().String()
		req.Header.Set(CorrelationIDHeader, testCorrelationID)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		logOutput := logBuffer.String()
		assert.Contains(t, logOutput, `"level":"INFO"`)
		assert.Contains(t, logOutput, `"msg":"HTTP request"`)
		assert.Contains(t, logOutput, `"method":"GET"`)
		assert.Contains(t, logOutput, `"path":"/wallets/user-1/ledger?page=2"`)
		assert.Contains(t, logOutput, `"route":"/wallets/:identity/ledger"`)
		assert.Contains(t, logOutput, `"status":200`)
		assert.Contains(t, logOutput, `"latency":`)
		assert.Contains(t, logOutput, `"client_ip":`)
		assert.Contains(t, logOutput, `"user_agent":"test-agent"`)
		assert.Contains(t, logOutput, `"correlation_id":"`+testCorrelationID+`"`)
	})

	t.Run("GeneratesCorrelationID", func(t *testing.T) {
		var logBuffer bytes.Buffer
		router := newBufferedRouter(&logBuffer)
		router.POST("/reservations", func(c *gin.Context) {
			c.String(http.StatusCreated, "Created")
		})

		req, _ := http.NewRequest(http.MethodPost, "/reservations", strings.NewReader("body"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		logOutput := logBuffer.String()
		assert.Contains(t, logOutput, `"method":"POST"`)
		assert.Contains(t, logOutput, `"status":201`)
		assert.Contains(t, logOutput, `"correlation_id":`)
	})

	t.Run("ClientErrorLogsAtWarn", func(t *testing.T) {
		var logBuffer bytes.Buffer
		router := newBufferedRouter(&logBuffer)
		router.POST("/reservations", func(c *gin.Context) {
			c.Status(http.StatusPaymentRequired)
		})

		req, _ := http.NewRequest(http.MethodPost, "/reservations", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Contains(t, logBuffer.String(), `"level":"WARN"`)
	})

	t.Run("ServerErrorLogsAtError", func(t *testing.T) {
		var logBuffer bytes.Buffer
		router := newBufferedRouter(&logBuffer)
		router.GET("/pricing", func(c *gin.Context) {
			c.Status(http.StatusInternalServerError)
		})

		req, _ := http.NewRequest(http.MethodGet, "/pricing", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Contains(t, logBuffer.String(), `"level":"ERROR"`)
	})
}
