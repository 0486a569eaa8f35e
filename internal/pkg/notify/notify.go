package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tasktracker/internal/pkg/metrics"
	"tasktracker/internal/pkg/queue"
)

// Mailer 定义欢迎邮件发送接口。
type Mailer interface {
	// Enabled 返回发送通道是否已配置。
	Enabled() bool
	// SendWelcome 向新注册用户发送欢迎邮件。
	SendWelcome(ctx context.Context, toEmail, username string) error
}

// Outbox 将邮件发送放入后台队列，请求路径不等待 SMTP。
type Outbox struct {
	mailer Mailer
	queue  *queue.Queue
	logger *slog.Logger
}

// NewOutbox 创建邮件发件箱。mailer 未配置时返回 nil，nil Outbox 会忽略所有投递。
func NewOutbox(mailer Mailer, workers, capacity int, logger *slog.Logger) *Outbox {
	if mailer == nil || !mailer.Enabled() {
		return nil
	}
	q := queue.NewQueue(logger, workers, capacity, func(r queue.Result) {
		metrics.MailJobsTotal.WithLabelValues(string(r)).Inc()
	})
	return &Outbox{mailer: mailer, queue: q, logger: logger}
}

// Start 启动后台 worker。
func (o *Outbox) Start(ctx context.Context) {
	if o == nil {
		return
	}
	o.queue.Start(ctx)
}

// EnqueueWelcome 投递欢迎邮件，邮箱为空或队列已满时返回 false。
func (o *Outbox) EnqueueWelcome(toEmail, username string) bool {
	if o == nil || strings.TrimSpace(toEmail) == "" {
		return false
	}
	ok := o.queue.Enqueue(func(ctx context.Context) error {
		defer metrics.MailQueueDepth.Set(float64(o.queue.Len()))
		return o.mailer.SendWelcome(ctx, toEmail, username)
	})
	metrics.MailQueueDepth.Set(float64(o.queue.Len()))
	if !ok {
		o.logger.Warn("welcome mail dropped", slog.String("username", username))
	}
	return ok
}

// Shutdown 停止接收新邮件并等待队列发送完毕。
func (o *Outbox) Shutdown(timeout time.Duration) error {
	if o == nil {
		return nil
	}
	return o.queue.ShutdownWithTimeout(timeout)
}
