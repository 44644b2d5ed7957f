package broker

import (
	"context"
	"time"

	"quantflow/internal/model"
	"quantflow/pkg/errors"
	"quantflow/pkg/errors/ecode"
	"quantflow/pkg/logger"
)

// 瞬时I/O错误的有界退避重试。重试耗尽后以BrokerErr错误码上浮，
// 由调用方决定标记REJECTED还是让本轮扫描失败。
// 下单重试的安全性由client_order_id幂等保证

type retryBroker struct {
	inner      Broker
	maxRetries int
	timeout    time.Duration
	baseDelay  time.Duration
}

// WithRetry 包装一个Broker，为每次调用加上超时和退避重试
func WithRetry(inner Broker, maxRetries int, timeout time.Duration) Broker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &retryBroker{
		inner:      inner,
		maxRetries: maxRetries,
		timeout:    timeout,
		baseDelay:  200 * time.Millisecond,
	}
}

func (r *retryBroker) do(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.baseDelay
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("broker call failed",
			logger.Pair("op", what),
			logger.Pair("attempt", attempt),
			logger.Pair("err", err.Error()))
		if attempt == r.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), ecode.BrokerErr, what+" cancelled")
		case <-time.After(delay):
		}
		delay *= 2
	}
	return errors.Wrap(lastErr, ecode.BrokerErr, what+" retries exhausted")
}

func (r *retryBroker) PlaceOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error) {
	var resp *model.OrderResponse
	err := r.do(ctx, "place_order", func(ctx context.Context) error {
		var e error
		resp, e = r.inner.PlaceOrder(ctx, order)
		return e
	})
	return resp, err
}

func (r *retryBroker) CancelOrder(ctx context.Context, brokerOrderId string, symbol string) error {
	return r.do(ctx, "cancel_order", func(ctx context.Context) error {
		return r.inner.CancelOrder(ctx, brokerOrderId, symbol)
	})
}

func (r *retryBroker) GetOrderStatus(ctx context.Context, brokerOrderId string) (*model.OrderStatus, error) {
	var st *model.OrderStatus
	err := r.do(ctx, "order_status", func(ctx context.Context) error {
		var e error
		st, e = r.inner.GetOrderStatus(ctx, brokerOrderId)
		return e
	})
	return st, err
}

func (r *retryBroker) SessionValid(ctx context.Context) error {
	return r.inner.SessionValid(ctx)
}

func (r *retryBroker) Events() <-chan model.OrderEvent {
	return r.inner.Events()
}

func (r *retryBroker) Close() error {
	return r.inner.Close()
}
