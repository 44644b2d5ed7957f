package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantflow/internal/model"
)

// 模拟撮合，本地联调和测试用。
// 市价单立即全部成交，限价/触发单挂起，由测试或行情驱动成交

type Simulated struct {
	mu       sync.Mutex
	orders   map[string]*simOrder // key: broker order id
	byClient map[string]string    // client order id -> broker order id
	events   chan model.OrderEvent
	closed   bool
}

type simOrder struct {
	order  model.Order
	status model.OrderStatusCode
	filled int
}

func NewSimulated() *Simulated {
	return &Simulated{
		orders:   make(map[string]*simOrder),
		byClient: make(map[string]string),
		events:   make(chan model.OrderEvent, 256),
	}
}

func (s *Simulated) PlaceOrder(ctx context.Context, req *model.Order) (*model.OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 同一个client id重复下单直接返回已有的券商单号，模拟券商侧幂等
	if existing, ok := s.byClient[req.ClientOrderId]; ok {
		return &model.OrderResponse{BrokerOrderId: existing, Message: "duplicate client order id"}, nil
	}

	brokerId := uuid.NewString()
	so := &simOrder{order: *req, status: model.StatusPlaced}
	s.orders[brokerId] = so
	s.byClient[req.ClientOrderId] = brokerId

	if req.OrderType == model.Market {
		// 市价单立即成交
		so.status = model.StatusFilled
		so.filled = req.Quantity
		s.emit(model.OrderEvent{
			ClientOrderId: req.ClientOrderId,
			BrokerOrderId: brokerId,
			Status:        model.StatusFilled,
			FilledQty:     req.Quantity,
			AvgPrice:      req.Price,
			Timestamp:     time.Now(),
		})
	}

	return &model.OrderResponse{BrokerOrderId: brokerId, Message: "ok"}, nil
}

func (s *Simulated) CancelOrder(ctx context.Context, brokerOrderId string, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	so, ok := s.orders[brokerOrderId]
	if !ok {
		return fmt.Errorf("order not found: %s", brokerOrderId)
	}
	if so.status.Terminal() {
		// 真实券商对终态订单的撤单会报错，这里保持同样的语义
		return fmt.Errorf("order %s already %s", brokerOrderId, so.status)
	}
	so.status = model.StatusCancelled
	s.emit(model.OrderEvent{
		ClientOrderId: so.order.ClientOrderId,
		BrokerOrderId: brokerOrderId,
		Status:        model.StatusCancelled,
		FilledQty:     so.filled,
		Timestamp:     time.Now(),
	})
	return nil
}

func (s *Simulated) GetOrderStatus(ctx context.Context, brokerOrderId string) (*model.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	so, ok := s.orders[brokerOrderId]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", brokerOrderId)
	}
	return &model.OrderStatus{
		BrokerOrderId: brokerOrderId,
		Status:        so.status,
		Filled:        so.filled,
		Remaining:     so.order.Quantity - so.filled,
		AvgPrice:      so.order.Price,
	}, nil
}

func (s *Simulated) SessionValid(ctx context.Context) error {
	return nil
}

func (s *Simulated) Events() <-chan model.OrderEvent {
	return s.events
}

func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Fill 测试钩子：按client id驱动一笔成交
func (s *Simulated) Fill(clientOrderId string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	brokerId, ok := s.byClient[clientOrderId]
	if !ok {
		return fmt.Errorf("unknown client order id: %s", clientOrderId)
	}
	so := s.orders[brokerId]
	if so.status.Terminal() {
		return fmt.Errorf("order %s already %s", brokerId, so.status)
	}
	so.status = model.StatusFilled
	so.filled = so.order.Quantity
	s.emit(model.OrderEvent{
		ClientOrderId: clientOrderId,
		BrokerOrderId: brokerId,
		Status:        model.StatusFilled,
		FilledQty:     so.filled,
		AvgPrice:      price,
		Timestamp:     time.Now(),
	})
	return nil
}

// Reject 测试钩子：按client id驱动一次拒单
func (s *Simulated) Reject(clientOrderId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	brokerId, ok := s.byClient[clientOrderId]
	if !ok {
		return fmt.Errorf("unknown client order id: %s", clientOrderId)
	}
	so := s.orders[brokerId]
	if so.status.Terminal() {
		return fmt.Errorf("order %s already %s", brokerId, so.status)
	}
	so.status = model.StatusRejected
	s.emit(model.OrderEvent{
		ClientOrderId: clientOrderId,
		BrokerOrderId: brokerId,
		Status:        model.StatusRejected,
		Timestamp:     time.Now(),
	})
	return nil
}

// StatusOf 测试用：按client id查当前状态
func (s *Simulated) StatusOf(clientOrderId string) (model.OrderStatusCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	brokerId, ok := s.byClient[clientOrderId]
	if !ok {
		return "", false
	}
	return s.orders[brokerId].status, true
}

func (s *Simulated) emit(ev model.OrderEvent) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// 事件缓冲满时丢弃，模拟器不做背压
	}
}
