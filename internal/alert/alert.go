package alert

import (
	"context"
	"time"

	"quantflow/pkg/logger"
)

// 告警通道。发送失败只记日志，绝不阻塞交易逻辑

type Notifier interface {
	Notify(ctx context.Context, subject, body string)
	Close() error
}

// Multi 扇出到多个通道，每个通道异步发送
type Multi struct {
	channels []Notifier
}

func NewMulti(channels ...Notifier) *Multi {
	return &Multi{channels: channels}
}

func (m *Multi) Notify(ctx context.Context, subject, body string) {
	for _, ch := range m.channels {
		go func(n Notifier) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("notifier panic", logger.Pair("panic", r))
				}
			}()
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			n.Notify(sendCtx, subject, body)
		}(ch)
	}
}

func (m *Multi) Close() error {
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			logger.Warn("notifier close failed", logger.Pair("err", err.Error()))
		}
	}
	return nil
}
