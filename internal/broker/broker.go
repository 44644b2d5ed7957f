package broker

import (
	"context"

	"quantflow/internal/model"
)

// 券商能力的窄接口。真实适配器和模拟撮合都实现它，
// 引擎侧不做任何运行时方法探测

type Broker interface {
	// 下单，返回券商侧订单id
	PlaceOrder(ctx context.Context, order *model.Order) (*model.OrderResponse, error)
	// 撤销订单
	CancelOrder(ctx context.Context, brokerOrderId string, symbol string) error
	// 查询订单状态
	GetOrderStatus(ctx context.Context, brokerOrderId string) (*model.OrderStatus, error)
	// 会话有效性检查
	SessionValid(ctx context.Context) error
	// 订单状态事件流（成交/撤单/拒单回报）
	Events() <-chan model.OrderEvent
	Close() error
}
