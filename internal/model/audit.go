package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent 只追加的审计日志，记录所有改变系统状态的动作
// （下单、OCO生命周期、熔断、监管状态迁移）
type AuditEvent struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"` // snowflake id
	Kind      string         `gorm:"column:kind;index" json:"kind"`
	RefId     string         `gorm:"column:ref_id;index" json:"ref_id"` // 关联的订单/组/仓位id
	Detail    datatypes.JSON `gorm:"column:detail" json:"detail"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_event"
}
