package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"quantflow/internal/model"
)

type OCODao struct {
	db *gorm.DB
}

func NewOCODao(db *gorm.DB) *OCODao {
	return &OCODao{db: db}
}

func (d *OCODao) Insert(ctx context.Context, group *model.OCOGroup) error {
	return d.db.WithContext(ctx).Create(group).Error
}

func (d *OCODao) GetByGroupId(ctx context.Context, groupId string) (g model.OCOGroup, found bool, err error) {
	err = d.db.WithContext(ctx).Model(&model.OCOGroup{}).
		Where("group_id = ?", groupId).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return g, false, nil
	}
	if err != nil {
		return g, false, err
	}
	return g, true, nil
}

// GetByEntryId 按入场单client id反查所属组
func (d *OCODao) GetByEntryId(ctx context.Context, entryClientId string) (g model.OCOGroup, found bool, err error) {
	err = d.db.WithContext(ctx).Model(&model.OCOGroup{}).
		Where("entry_client_id = ?", entryClientId).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return g, false, nil
	}
	if err != nil {
		return g, false, err
	}
	return g, true, nil
}

func (d *OCODao) UpdateStatus(ctx context.Context, groupId string, status model.OCOStatus, reason string) error {
	return d.db.WithContext(ctx).Model(&model.OCOGroup{}).
		Where("group_id = ?", groupId).
		Updates(map[string]interface{}{"status": status, "close_reason": reason}).Error
}

// ListOpen 查全部未关闭的组
func (d *OCODao) ListOpen(ctx context.Context) (groups []model.OCOGroup, err error) {
	err = d.db.WithContext(ctx).Model(&model.OCOGroup{}).
		Where("status = ?", model.OCOOpen).
		Find(&groups).Error
	return
}
