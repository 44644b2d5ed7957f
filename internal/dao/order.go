package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"quantflow/internal/model"
)

type OrderDao struct {
	db *gorm.DB
}

func NewOrderDao(db *gorm.DB) *OrderDao {
	return &OrderDao{db: db}
}

// 插入下单记录
func (d *OrderDao) Insert(ctx context.Context, record *model.OrderRecord) error {
	return d.db.WithContext(ctx).Create(record).Error
}

// GetByClientId 按client_order_id查订单，幂等检查用。
// 未找到不算错误，用found区分
func (d *OrderDao) GetByClientId(ctx context.Context, clientOrderId string) (or model.OrderRecord, found bool, err error) {
	err = d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Where("client_order_id = ?", clientOrderId).
		First(&or).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return or, false, nil
	}
	if err != nil {
		return or, false, err
	}
	return or, true, nil
}

// 判断client_order_id是否已存在
func (d *OrderDao) ExistsClientId(ctx context.Context, clientOrderId string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Where("client_order_id = ?", clientOrderId).Count(&count).Error
	return count > 0, err
}

// UpdateStatus 订单状态迁移，只改状态相关列，记录本身从不删除
func (d *OrderDao) UpdateStatus(ctx context.Context, clientOrderId string, status model.OrderStatusCode, brokerOrderId string) error {
	updates := map[string]interface{}{"status": status}
	if brokerOrderId != "" {
		updates["broker_order_id"] = brokerOrderId
	}
	return d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Where("client_order_id = ?", clientOrderId).
		Updates(updates).Error
}

// ListByGroup 查一个OCO组下的全部订单
func (d *OrderDao) ListByGroup(ctx context.Context, groupId string) (orders []model.OrderRecord, err error) {
	err = d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Where("group_id = ?", groupId).
		Order("created_at ASC").
		Find(&orders).Error
	return
}

// ListByStatus 按状态查订单（恢复时查未终结的单）
func (d *OrderDao) ListByStatus(ctx context.Context, status model.OrderStatusCode) (orders []model.OrderRecord, err error) {
	err = d.db.WithContext(ctx).Model(&model.OrderRecord{}).
		Where("status = ?", status).
		Find(&orders).Error
	return
}
