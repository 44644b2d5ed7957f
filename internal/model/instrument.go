package model

import (
	"time"

	"gorm.io/plugin/soft_delete"
)

// InstrumentClass 标的类别，费率和手数规则按类别区分
type InstrumentClass string

const (
	ClassEquity  InstrumentClass = "EQ"
	ClassFutures InstrumentClass = "FUT"
	ClassOptions InstrumentClass = "OPT"
)

// Instrument 标的主档。退市的标的软删除，
// 历史仓位恢复时还能查到
type Instrument struct {
	Token     int64                 `gorm:"column:token;primaryKey" json:"token"`
	Symbol    string                `gorm:"column:symbol;index" json:"symbol"`
	Exchange  string                `gorm:"column:exchange" json:"exchange"` // NSE / NFO
	Class     InstrumentClass       `gorm:"column:class" json:"class"`
	LotSize   int                   `gorm:"column:lot_size" json:"lot_size"`
	TickSize  float64               `gorm:"column:tick_size" json:"tick_size"`
	CreatedAt time.Time             `gorm:"column:created_at" json:"created_at"`
	DeletedAt soft_delete.DeletedAt `gorm:"column:deleted_at" json:"-"`
}

func (Instrument) TableName() string {
	return "instrument"
}
