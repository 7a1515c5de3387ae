package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tempchat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempchat_messages_total",
		Help: "Total number of messages sent",
	}, []string{"kind"})
	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempchat_rooms_created_total",
		Help: "Total number of rooms created",
	})
	RoomsJoinedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tempchat_rooms_joined_total",
		Help: "Total number of successful room joins",
	})
	RoomsExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempchat_rooms_expired_total",
		Help: "Total number of rooms deleted by an expiry trigger",
	}, []string{"trigger"})
	SweepRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tempchat_sweep_runs_total",
		Help: "Total number of expiry sweeps",
	}, []string{"result"})
	ChatListViews = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tempchat_chat_list_views",
		Help: "Current number of live personal chat lists",
	})
	ChatListSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tempchat_chat_list_subscriptions",
		Help: "Current number of store subscriptions held by chat lists",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, MessagesTotal, RoomsCreatedTotal, RoomsJoinedTotal, RoomsExpiredTotal,
		SweepRunsTotal, ChatListViews, ChatListSubscriptions, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
