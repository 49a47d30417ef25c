package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/subscription"
)

const streamHeartbeat = 15 * time.Second

type watchFunc func(id string, onUpdate func([]orders.Order), opts ...subscription.WatchOption) (*subscription.Watch, error)

// RegisterStreamRoutes serves live order lists as server-sent events.
func RegisterStreamRoutes(r *gin.Engine, cfg HandlerConfig) {
	subs := cfg.Subscriptions
	r.GET("/shops/:shopId/orders/stream", streamHandler(cfg.Log, "shopId", subs.WatchShopOrders))
	r.GET("/customers/:customerId/orders/stream", streamHandler(cfg.Log, "customerId", subs.WatchCustomerOrders))
}

func streamHandler(log *zap.Logger, param string, watch watchFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := parseStatuses(c.Query("status"))
		if err != nil {
			writeError(c, err)
			return
		}

		// holds at most the latest set
		updates := make(chan []orders.Order, 1)
		w, err := watch(c.Param(param), func(list []orders.Order) {
			for {
				select {
				case updates <- list:
					return
				default:
				}
				select {
				case <-updates:
				default:
				}
			}
		}, subscription.WithStatuses(statuses...))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription_failed", "msg": err.Error()})
			return
		}
		defer w.Unsubscribe()

		log.Debug("stream opened", zap.String(param, c.Param(param)), zap.String("request_id", requestID(c)))
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		c.Stream(func(io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case list := <-updates:
				c.SSEvent("orders", gin.H{"mode": w.Mode(), "orders": list})
				return true
			case <-heartbeat.C:
				c.SSEvent("ping", gin.H{"mode": w.Mode()})
				return true
			}
		})
	}
}
