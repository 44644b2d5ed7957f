package model

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position 仓位记录，内存和库里同构。
// 只有编排器持有的那份内存副本会被修改，落库是快照
type Position struct {
	ID           uint           `gorm:"column:id;primary_key;" json:"id"`
	PositionId   int64          `gorm:"column:position_id;uniqueIndex" json:"position_id"`
	Token        int64          `gorm:"column:token" json:"token"`
	Symbol       string         `gorm:"column:symbol;index" json:"symbol"`
	Side         PosSide        `gorm:"column:side" json:"side"`
	Quantity     int            `gorm:"column:quantity" json:"quantity"`
	EntryPrice   float64        `gorm:"column:entry_price" json:"entry_price"`
	CurrentPrice float64        `gorm:"column:current_price" json:"current_price"`
	Unrealized   float64        `gorm:"column:unrealized_pnl" json:"unrealized_pnl"`
	Realized     float64        `gorm:"column:realized_pnl" json:"realized_pnl"`
	StopLoss     float64        `gorm:"column:stop_loss" json:"stop_loss"`
	Strategy     string         `gorm:"column:strategy" json:"strategy"`
	Status       PositionStatus `gorm:"column:status;index" json:"status"`
	// 恢复时标的无法解析的仓位置为降级，保留在内存里不丢弃
	Degraded  bool      `gorm:"column:degraded" json:"degraded"`
	OpenTime  time.Time `gorm:"column:open_time" json:"open_time"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Position) TableName() string {
	return "position_record"
}

// MarkPrice 按最新价重算浮动盈亏
func (p *Position) MarkPrice(price float64) {
	p.CurrentPrice = price
	diff := price - p.EntryPrice
	if p.Side == Short {
		diff = -diff
	}
	p.Unrealized = diff * float64(p.Quantity)
}

// ExitOrderSide 平仓单的买卖方向
func (p *Position) ExitOrderSide() OrderSide {
	if p.Side == Long {
		return Sell
	}
	return Buy
}
