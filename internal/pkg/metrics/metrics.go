package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TasksCreatedTotal 创建成功的任务总数。
	TasksCreatedTotal prometheus.Counter
	// TasksCompletedTotal 首次进入 done 状态的任务总数。
	TasksCompletedTotal prometheus.Counter
	// NotificationsTotal 通知发送结果计数，label: result = sent / failed / dropped。
	NotificationsTotal *prometheus.CounterVec
	// DigestRunsTotal 摘要广播执行次数。
	DigestRunsTotal prometheus.Counter
	// DigestUsersNotified 摘要广播中成功推送的用户数。
	DigestUsersNotified prometheus.Counter
	// RateLimitRejectedTotal 被限流拒绝的请求数，label: route。
	RateLimitRejectedTotal *prometheus.CounterVec
	// CompletionCallsTotal 文本补全调用结果计数，label: result = ok / error。
	CompletionCallsTotal *prometheus.CounterVec
)

var initOnce sync.Once

// InitMetrics 初始化并注册所有指标。可重复调用（测试中多次初始化安全）。
func InitMetrics() {
	initOnce.Do(func() {
		TasksCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltify_tasks_created_total",
			Help: "Total number of tasks created.",
		})
		TasksCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltify_tasks_completed_total",
			Help: "Total number of tasks transitioned to done.",
		})
		NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voltify_notifications_total",
			Help: "Notification attempts by result.",
		}, []string{"result"})
		DigestRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltify_digest_runs_total",
			Help: "Total number of digest broadcast runs.",
		})
		DigestUsersNotified = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voltify_digest_users_notified_total",
			Help: "Total number of users who received a digest.",
		})
		RateLimitRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voltify_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"route"})
		CompletionCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voltify_completion_calls_total",
			Help: "Text-completion calls by result.",
		}, []string{"result"})

		prometheus.MustRegister(
			TasksCreatedTotal,
			TasksCompletedTotal,
			NotificationsTotal,
			DigestRunsTotal,
			DigestUsersNotified,
			RateLimitRejectedTotal,
			CompletionCallsTotal,
		)
	})
}
