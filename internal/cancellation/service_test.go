package cancellation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestService(known ...uuid.UUID) Service {
	lookup := func(_ context.Context, id uuid.UUID) error {
		for _, k := range known {
			if k == id {
				return nil
			}
		}
		return apperrors.ErrNotFound
	}
	return NewService(NewMemoryRepository(), lookup, clock.NewFixed(testNow))
}

func TestPutPolicyReplacesRules(t *testing.T) {
	unit := uuid.New()
	svc := newTestService(unit)
	ctx := context.Background()

	p, err := svc.PutPolicy(ctx, unit, PolicyRequest{
		Name:  "Flexible",
		Rules: []RuleRequest{{DaysBefore: 1, RefundPercent: 50}, {DaysBefore: 7, RefundPercent: 100}},
	})
	require.NoError(t, err)
	require.Len(t, p.Rules, 2)
	assert.Equal(t, 7, p.Rules[0].DaysBefore)

	p2, err := svc.PutPolicy(ctx, unit, PolicyRequest{
		Name:  "Strict",
		Rules: []RuleRequest{{DaysBefore: 30, RefundPercent: 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)

	got, err := svc.GetPolicy(ctx, unit)
	require.NoError(t, err)
	assert.Equal(t, "Strict", got.Name)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, 30, got.Rules[0].DaysBefore)
}

func TestPutPolicyValidation(t *testing.T) {
	unit := uuid.New()
	svc := newTestService(unit)
	ctx := context.Background()

	_, err := svc.PutPolicy(ctx, unit, PolicyRequest{Name: "Dup", Rules: []RuleRequest{
		{DaysBefore: 3, RefundPercent: 10}, {DaysBefore: 3, RefundPercent: 20},
	}})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.PutPolicy(ctx, uuid.New(), PolicyRequest{Name: "Ghost", Rules: []RuleRequest{{DaysBefore: 1, RefundPercent: 10}}})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEvaluateRefundWithoutPolicyIsZero(t *testing.T) {
	svc := newTestService()
	refund, err := svc.EvaluateRefund(context.Background(), uuid.New(), testNow.AddDate(0, 0, 30), 10000)
	require.NoError(t, err)
	assert.Zero(t, refund.Amount)
	assert.Equal(t, 30, refund.DaysNotice)
}

func TestPolicyEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	unit := uuid.New()

	newRouter := func(id *identity.Identity) *gin.Engine {
		router := gin.New()
		auth := func(c *gin.Context) {
			if id != nil {
				middleware.SetIdentity(c, *id)
			}
			c.Next()
		}
		SetupRoutes(router.Group("/api/v1"), NewController(newTestService(unit)), auth)
		return router
	}
	put := func(router *gin.Engine, body interface{}) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/units/"+unit.String()+"/cancellation-policy", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
	valid := PolicyRequest{Name: "Flexible", Rules: []RuleRequest{{DaysBefore: 2, RefundPercent: 80}}}

	t.Run("anonymous", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, put(newRouter(nil), valid).Code)
	})

	t.Run("guest lacks capability", func(t *testing.T) {
		guest := identity.New("guest-1", identity.RoleUser)
		assert.Equal(t, http.StatusForbidden, put(newRouter(&guest), valid).Code)
	})

	t.Run("host saves policy", func(t *testing.T) {
		host := identity.New("host-1", identity.RoleHost)
		assert.Equal(t, http.StatusOK, put(newRouter(&host), valid).Code)
	})

	t.Run("invalid percent", func(t *testing.T) {
		host := identity.New("host-1", identity.RoleHost)
		bad := PolicyRequest{Name: "Bad", Rules: []RuleRequest{{DaysBefore: 2, RefundPercent: 180}}}
		assert.Equal(t, http.StatusBadRequest, put(newRouter(&host), bad).Code)
	})
}
