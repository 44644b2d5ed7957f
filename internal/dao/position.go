package dao

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"quantflow/internal/model"
)

type PositionDao struct {
	db *gorm.DB
}

func NewPositionDao(db *gorm.DB) *PositionDao {
	return &PositionDao{db: db}
}

// Save 按position_id做upsert，内存仓位的落库快照
func (d *PositionDao) Save(ctx context.Context, p *model.Position) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "position_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "current_price", "unrealized_pnl", "realized_pnl",
			"stop_loss", "status", "degraded", "updated_at",
		}),
	}).Create(p).Error
}

// ListOpen 查全部未平仓位，崩溃恢复的入口
func (d *PositionDao) ListOpen(ctx context.Context) (positions []model.Position, err error) {
	err = d.db.WithContext(ctx).Model(&model.Position{}).
		Where("status = ?", model.PositionOpen).
		Find(&positions).Error
	return
}

// Close 仓位平掉后更新状态和已实现盈亏
func (d *PositionDao) Close(ctx context.Context, positionId int64, realized float64) error {
	return d.db.WithContext(ctx).Model(&model.Position{}).
		Where("position_id = ?", positionId).
		Updates(map[string]interface{}{
			"status":         model.PositionClosed,
			"quantity":       0,
			"realized_pnl":   realized,
			"unrealized_pnl": 0,
		}).Error
}
