package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/coordinator"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/lifecycle"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/subscription"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/validation"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerConfig groups dependencies for the order routes.
type HandlerConfig struct {
	Coordinator *coordinator.Coordinator
	// Subscriptions enables the streaming routes. Leave nil behind API
	// Gateway, which cannot hold a stream open.
	Subscriptions *subscription.Manager
	Mirror        Pinger
	Log           *zap.Logger
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	r := gin.New()
	r.Use(RequestID(), Logger(cfg.Log), Recovery(cfg.Log))

	r.GET("/health", healthHandler(cfg))
	RegisterOrdersRoutes(r, cfg)
	if cfg.Subscriptions != nil {
		RegisterStreamRoutes(r, cfg)
	}
	return r
}

func healthHandler(cfg HandlerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if cfg.Mirror != nil {
			// a down mirror degrades latency, not correctness
			if err := cfg.Mirror.Ping(c.Request.Context()); err != nil {
				body["mirror"] = "unavailable"
			} else {
				body["mirror"] = "ok"
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// RegisterOrdersRoutes registers the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	co := cfg.Coordinator

	r.POST("/orders", func(c *gin.Context) {
		var req validation.SubmitOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}

		opts := []coordinator.SubmitOption{coordinator.WithSubmitCorrelationID(requestID(c))}
		if key := c.GetHeader("Idempotency-Key"); key != "" {
			opts = append(opts, coordinator.WithIdempotencyKey(key))
		}

		res, err := co.SubmitNewOrder(c.Request.Context(), req, opts...)
		if err != nil {
			writeError(c, err)
			return
		}
		if res.Replayed {
			c.JSON(http.StatusOK, res.Order)
			return
		}
		c.Header("Location", fmt.Sprintf("/orders/%s", res.Order.ID))
		c.JSON(http.StatusCreated, res.Order)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := co.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	v := validation.New()
	r.POST("/orders/:id/status", func(c *gin.Context) {
		var req validation.StatusChangeRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		target, err := orders.ParseStatus(req.Status)
		if err != nil {
			validation.WriteError(c, &validation.Error{Fields: map[string]string{"status": err.Error()}})
			return
		}

		opts := []coordinator.ChangeOption{coordinator.WithCorrelationID(requestID(c))}
		if req.ExpectedStatus != "" {
			expected, err := orders.ParseStatus(req.ExpectedStatus)
			if err != nil {
				validation.WriteError(c, &validation.Error{Fields: map[string]string{"expectedStatus": err.Error()}})
				return
			}
			opts = append(opts, coordinator.WithExpectedStatus(expected))
		}
		if lifecycle.Role(req.Actor) == lifecycle.RoleCustomer {
			opts = append(opts, coordinator.AsCustomer(req.CustomerID))
		}

		o, err := co.ApplyStatusChange(c.Request.Context(), c.Param("id"), target, opts...)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.GET("/shops/:shopId/orders", func(c *gin.Context) {
		statuses, err := parseStatuses(c.Query("status"))
		if err != nil {
			validation.WriteError(c, err)
			return
		}
		list, err := co.ListShopOrders(c.Request.Context(), c.Param("shopId"), statuses...)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/customers/:customerId/orders", func(c *gin.Context) {
		list, err := co.ListCustomerOrders(c.Request.Context(), c.Param("customerId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})
}

// parseStatuses reads a comma separated status filter. Empty means all.
func parseStatuses(raw string) ([]orders.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []orders.Status
	for _, part := range strings.Split(raw, ",") {
		s, err := orders.ParseStatus(part)
		if err != nil {
			return nil, &validation.Error{Fields: map[string]string{"status": err.Error()}}
		}
		out = append(out, s)
	}
	return out, nil
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	var verr *validation.Error
	if errors.As(err, &verr) {
		validation.WriteError(c, err)
		return
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.Kind(err),
		"msg":   err.Error(),
	})
}
