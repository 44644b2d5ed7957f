package dao

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"quantflow/internal/model"
)

// 审计日志只追加，不更新不删除

type AuditDao struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewAuditDao(db *gorm.DB, node *snowflake.Node) *AuditDao {
	return &AuditDao{db: db, node: node}
}

// Append 记录一条审计事件，detail会被序列化为JSON
func (d *AuditDao) Append(ctx context.Context, kind, refId string, detail interface{}) error {
	var payload []byte
	if detail != nil {
		var err error
		payload, err = json.Marshal(detail)
		if err != nil {
			return err
		}
	}
	ev := &model.AuditEvent{
		ID:        d.node.Generate().Int64(),
		Kind:      kind,
		RefId:     refId,
		Detail:    payload,
		CreatedAt: time.Now(),
	}
	return d.db.WithContext(ctx).Create(ev).Error
}

// ListByKind 按事件类型查询，人工排查用
func (d *AuditDao) ListByKind(ctx context.Context, kind string, limit int) (events []model.AuditEvent, err error) {
	err = d.db.WithContext(ctx).Model(&model.AuditEvent{}).
		Where("kind = ?", kind).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return
}
