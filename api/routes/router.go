// api/routes/router.go
package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/admin"
	"github.com/zomestaydeveloper/Zomestay/internal/bookings"
	"github.com/zomestaydeveloper/Zomestay/internal/cancellation"
	"github.com/zomestaydeveloper/Zomestay/internal/holds"
	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/config"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/middleware"
	"github.com/zomestaydeveloper/Zomestay/pkg/cache"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// Models lists every persisted type, in migration order.
func Models() []interface{} {
	return []interface{}{
		&inventory.Unit{},
		&inventory.AvailabilityRecord{},
		&holds.Hold{},
		&bookings.Booking{},
		&bookings.Transition{},
		&payments.Attempt{},
		&bookings.CancellationRequest{},
		&admin.AuditEntry{},
		&cancellation.Policy{},
		&cancellation.Rule{},
	}
}

// Router holds all route dependencies. The domain components are exported
// so main can run their background jobs.
type Router struct {
	config *config.Config
	db     *database.DB

	Ledger     *inventory.Ledger
	Holds      *holds.Manager
	Reconciler *payments.Reconciler
	Guard      *holds.RedisGuard

	units    inventory.Service
	policies cancellation.Service
	bookings bookings.Service
	admin    admin.Service
}

// NewRouter builds the booking engine on top of db. With no PostgreSQL
// connection every store is in memory.
func NewRouter(cfg *config.Config, db *database.DB, publisher notifications.Publisher, clk clock.Clock) *Router {
	r := &Router{config: cfg, db: db}

	pg := db.PostgreSQL
	var (
		records      inventory.RecordStore
		unitRepo     inventory.Repository
		holdRepo     holds.Repository
		bookingRepo  bookings.Repository
		attemptRepo  payments.Repository
		policyRepo   cancellation.Repository
		auditRepo    admin.Repository
		cacheService cache.Service
	)
	if pg != nil {
		records = inventory.NewRecordStore(pg)
		unitRepo = inventory.NewRepository(pg)
		holdRepo = holds.NewRepository(pg)
		bookingRepo = bookings.NewRepository(pg)
		attemptRepo = payments.NewRepository(pg)
		policyRepo = cancellation.NewRepository(pg)
		auditRepo = admin.NewRepository(pg)
	} else {
		records = inventory.NewMemoryRecordStore()
		unitRepo = inventory.NewMemoryRepository()
		holdRepo = holds.NewMemoryRepository()
		bookingRepo = bookings.NewMemoryRepository()
		attemptRepo = payments.NewMemoryRepository()
		policyRepo = cancellation.NewMemoryRepository()
		auditRepo = admin.NewMemoryRepository()
	}

	holdOpts := []holds.Option{
		holds.WithTTL(cfg.Booking.HoldTTL),
		holds.WithPublisher(publisher),
	}
	if db.Redis != nil {
		cacheService = cache.NewService(db.Redis)
		r.Guard = holds.NewRedisGuard(db.Redis, time.Minute)
		holdOpts = append(holdOpts, holds.WithGuard(r.Guard))
	} else {
		cacheService = cache.NewNoop()
	}

	r.Ledger = inventory.NewLedger(records, clk)
	r.units = inventory.NewService(unitRepo, r.Ledger, cacheService, clk,
		inventory.WithCacheTTL(cfg.Redis.AvailabilityCacheTTL),
		inventory.WithDefaultCurrency(cfg.Booking.Currency))
	r.policies = cancellation.NewService(policyRepo, func(ctx context.Context, id uuid.UUID) error {
		_, err := r.units.GetUnit(ctx, id)
		return err
	}, clk)
	r.Holds = holds.NewManager(holdRepo, r.Ledger, clk, holdOpts...)

	var bookingOpts []bookings.Option
	if cfg.Payments.RazorpayKeyID != "" {
		links, err := payments.NewRazorpayLinks(cfg.Payments.RazorpayKeyID, cfg.Payments.RazorpayKeySecret, cfg.Payments.RazorpayAPIBase)
		if err != nil {
			logger.GetDefault().WithComponent("router").WithError(err).Warn("payment links disabled")
		} else {
			bookingOpts = append(bookingOpts, bookings.WithLinkIssuer(links))
		}
	}
	r.bookings = bookings.NewService(bookingRepo, r.units, r.Ledger, r.Holds, attemptRepo, r.policies, publisher, clk,
		bookings.Config{
			MaxNights:          cfg.Booking.MaxNights,
			MaxPaymentAttempts: cfg.Booking.MaxPaymentAttempts,
			ReferencePrefix:    cfg.Booking.ReferencePrefix,
			PaymentLinkMinTTL:  cfg.Booking.PaymentLinkMinTTL,
		}, bookingOpts...)
	r.Reconciler = payments.NewReconciler(attemptRepo, r.bookings, publisher, clk)
	r.admin = admin.NewService(auditRepo, r.bookings, r.Holds, r.Ledger, r.units, publisher, clk)
	return r
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	r.setupHealthRoutes(engine)

	auth := middleware.JWTAuthWithConfig(r.config)
	api := engine.Group(r.config.GetAPIBasePath())
	{
		inventory.SetupRoutes(api, inventory.NewController(r.units), auth)
		cancellation.SetupRoutes(api, cancellation.NewController(r.policies), auth)
		bookings.SetupRoutes(api, bookings.NewController(r.bookings, r.config.GetAPIBasePath()), auth)
		payments.SetupRoutes(api, payments.NewController(r.Reconciler,
			payments.NewRazorpayGateway(r.config.Payments.RazorpayWebhookSecret, r.config.Payments.RequireSignature),
			payments.NewStripeGateway(r.config.Payments.StripeWebhookSecret),
		))
		admin.SetupRoutes(api, admin.NewController(r.admin), auth)
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "zomestay-booking-engine",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "zomestay-booking-engine",
			"storage":   r.config.Storage.Driver,
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.APIVersion,
		})
	})
}
