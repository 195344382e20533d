package notify

import "context"

// Notifier 定义通知接口。
type Notifier interface {
	// Send 向目的地发送一条文本消息。
	//
	// 参数:
	//   ctx: 上下文（调用方负责超时控制）
	//   destination: 渠道相关的目的地标识（Telegram chat id 或邮箱地址）
	//   text: 消息正文
	Send(ctx context.Context, destination string, text string) error
}
