package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"quantflow/internal/model"
)

type InstrumentDao struct {
	db *gorm.DB
}

func NewInstrumentDao(db *gorm.DB) *InstrumentDao {
	return &InstrumentDao{db: db}
}

func (d *InstrumentDao) GetByToken(ctx context.Context, token int64) (ins model.Instrument, found bool, err error) {
	err = d.db.WithContext(ctx).Model(&model.Instrument{}).
		Where("token = ?", token).
		First(&ins).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ins, false, nil
	}
	if err != nil {
		return ins, false, err
	}
	return ins, true, nil
}

func (d *InstrumentDao) GetBySymbol(ctx context.Context, symbol string) (ins model.Instrument, found bool, err error) {
	err = d.db.WithContext(ctx).Model(&model.Instrument{}).
		Where("symbol = ?", symbol).
		First(&ins).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ins, false, nil
	}
	if err != nil {
		return ins, false, err
	}
	return ins, true, nil
}

// Upsert 标的主档刷新
func (d *InstrumentDao) Upsert(ctx context.Context, ins *model.Instrument) error {
	return d.db.WithContext(ctx).Save(ins).Error
}
