package model

import "time"

type OCOStatus string

const (
	OCOOpen   OCOStatus = "OPEN"
	OCOClosed OCOStatus = "CLOSED"
	// 不变量被破坏的组，冻结待人工处理
	OCOError OCOStatus = "ERROR"
)

// OCOGroup 一个入场单加它的保护性子单（止损/止盈）构成的原子单元。
// 任一出场腿成交，其余腿全部撤销
type OCOGroup struct {
	ID          uint      `gorm:"column:id;primary_key;" json:"id"`
	GroupId     string    `gorm:"column:group_id;uniqueIndex" json:"group_id"`
	Symbol      string    `gorm:"column:symbol" json:"symbol"`
	EntryId     string    `gorm:"column:entry_client_id" json:"entry_client_id"`
	SLId        string    `gorm:"column:sl_client_id" json:"sl_client_id"`
	TP1Id       string    `gorm:"column:tp1_client_id" json:"tp1_client_id"` // 可选
	TP2Id       string    `gorm:"column:tp2_client_id" json:"tp2_client_id"` // 可选
	StopPrice   float64   `gorm:"column:stop_price" json:"stop_price"`
	TP1Price    float64   `gorm:"column:tp1_price" json:"tp1_price"`
	TP2Price    float64   `gorm:"column:tp2_price" json:"tp2_price"`
	Status      OCOStatus `gorm:"column:status;index" json:"status"`
	CloseReason string    `gorm:"column:close_reason" json:"close_reason"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (OCOGroup) TableName() string {
	return "oco_group"
}

// ExitIds 已派生的出场腿client id集合（不含空腿）
func (g *OCOGroup) ExitIds() []string {
	ids := make([]string, 0, 3)
	for _, id := range []string{g.SLId, g.TP1Id, g.TP2Id} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
