package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按方法、路由与状态码统计请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasktracker_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration 请求耗时分布。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tasktracker_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// AuthLoginTotal 登录结果统计: success / invalid / throttled / error。
	AuthLoginTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasktracker_auth_login_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	// AuthTokenRejectedTotal 令牌校验失败统计: missing / invalid。
	AuthTokenRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasktracker_auth_token_rejected_total",
		Help: "Rejected bearer tokens by reason.",
	}, []string{"reason"})

	// TaskOperationsTotal 任务存储操作统计。
	TaskOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasktracker_task_operations_total",
		Help: "Task store operations by op and outcome.",
	}, []string{"op", "outcome"})

	// DashboardCacheTotal 仪表盘缓存命中统计: hit / miss / error。
	DashboardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasktracker_dashboard_cache_total",
		Help: "Dashboard cache lookups by result.",
	}, []string{"result"})

	// MailQueueDepth 邮件队列待处理数量。
	MailQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tasktracker_mail_queue_depth",
		Help: "Pending jobs in the mail queue.",
	})

	// MailJobsTotal 邮件任务执行结果: succeeded / failed / dropped / panicked。
	MailJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasktracker_mail_jobs_total",
		Help: "Mail jobs by result.",
	}, []string{"result"})
)

var initOnce sync.Once

// InitMetrics 将所有指标注册到默认 Registry，重复调用安全。
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AuthLoginTotal,
			AuthTokenRejectedTotal,
			TaskOperationsTotal,
			DashboardCacheTotal,
			MailQueueDepth,
			MailJobsTotal,
		)
	})
}
