package model

import (
	"time"
)

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// PosSide 持仓方向 做多long或者做空short
type PosSide string

const (
	Long  PosSide = "long"
	Short PosSide = "short"
)

// EntrySide 开仓单的买卖方向：做多买入，做空卖出
func (p PosSide) EntrySide() OrderSide {
	if p == Short {
		return Sell
	}
	return Buy
}

type OrderType string

const (
	// 市价单
	Market OrderType = "market"
	// 限价单
	Limit OrderType = "limit"
	// 止损触发单
	StopTrigger OrderType = "sl"
)

// OrderRole 订单在OCO组里的角色
type OrderRole string

const (
	RoleEntry OrderRole = "ENTRY"
	RoleSL    OrderRole = "SL"
	RoleTP1   OrderRole = "TP1"
	RoleTP2   OrderRole = "TP2"
)

type OrderStatusCode string

const (
	StatusPlaced    OrderStatusCode = "PLACED"
	StatusPartial   OrderStatusCode = "PARTIAL"
	StatusFilled    OrderStatusCode = "FILLED"
	StatusCancelled OrderStatusCode = "CANCELLED"
	StatusRejected  OrderStatusCode = "REJECTED"
	// 不变量被破坏的订单标记为ERROR，留待人工处理
	StatusError OrderStatusCode = "ERROR"
)

// Terminal 订单是否已到终态
func (s OrderStatusCode) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusError:
		return true
	}
	return false
}

// Order 下单请求，发给券商的通用格式
type Order struct {
	ClientOrderId string
	Symbol        string
	Side          OrderSide
	Quantity      int
	OrderType     OrderType
	Price         float64
	TriggerPrice  float64
	Role          OrderRole
	GroupId       string
	Strategy      string
}

type OrderResponse struct {
	BrokerOrderId string
	Message       string
}

type OrderStatus struct {
	BrokerOrderId string
	Status        OrderStatusCode
	Filled        int
	Remaining     int
	AvgPrice      float64
}

// OrderEvent 券商回报的订单状态事件（成交/撤单/拒单）
type OrderEvent struct {
	ClientOrderId string
	BrokerOrderId string
	Status        OrderStatusCode
	FilledQty     int
	AvgPrice      float64
	Timestamp     time.Time
}

// OrderRecord 持久化的订单记录，只追加状态，从不删除
type OrderRecord struct {
	ID            uint            `gorm:"column:id;primary_key;" json:"id"`
	ClientOrderId string          `gorm:"column:client_order_id;uniqueIndex" json:"client_order_id"`
	BrokerOrderId string          `gorm:"column:broker_order_id" json:"broker_order_id"` // 券商回执前为空
	Symbol        string          `gorm:"column:symbol" json:"symbol"`
	Token         int64           `gorm:"column:token" json:"token"` // 标的token
	Side          OrderSide       `gorm:"column:side" json:"side"`
	Quantity      int             `gorm:"column:quantity" json:"quantity"`
	OrderType     OrderType       `gorm:"column:order_type" json:"order_type"`
	Price         float64         `gorm:"column:price" json:"price"`
	TriggerPrice  float64         `gorm:"column:trigger_price" json:"trigger_price"`
	Status        OrderStatusCode `gorm:"column:status;index" json:"status"`
	Role          OrderRole       `gorm:"column:role" json:"role"`
	GroupId       string          `gorm:"column:group_id;index" json:"group_id"`
	Strategy      string          `gorm:"column:strategy" json:"strategy"`
	CreatedAt     time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (OrderRecord) TableName() string {
	return "order_record"
}
