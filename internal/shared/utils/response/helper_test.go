package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

func TestRespondErrorLogsServerErrorsOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logs bytes.Buffer
	previous := logger.GetDefault()
	logger.SetDefault(logger.NewWithHandler(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { logger.SetDefault(previous) })

	cases := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
		logged   bool
	}{
		{"conflict", fmt.Errorf("%w: night taken", apperrors.ErrConflict), http.StatusConflict, "CONFLICT", false},
		{"expired hold", fmt.Errorf("%w: hold ran out", apperrors.ErrExternalTimeout), http.StatusGone, "EXTERNAL_TIMEOUT", false},
		{"database down", errors.New("connection refused"), http.StatusInternalServerError, "INTERNAL", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs.Reset()
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)

			RespondError(c, "Failed to create booking", tc.err)

			assert.Equal(t, tc.wantCode, w.Code)
			var body StandardApiResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, tc.wantCode, body.StatusCode)
			detail, ok := body.Errors.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tc.wantKind, detail["kind"])

			if !tc.logged {
				assert.Empty(t, logs.String())
				return
			}
			assert.Contains(t, logs.String(), `"msg":"HTTP Error"`)
			assert.Contains(t, logs.String(), `"status":500`)
			assert.Contains(t, logs.String(), "connection refused")
		})
	}
}
