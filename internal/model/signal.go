package model

import (
	"time"

	"gorm.io/datatypes"
)

// Signal 策略产出的候选信号，经过风控定量后才会变成Plan
type Signal struct {
	Strategy  string         `json:"strategy"`
	Symbol    string         `json:"symbol"`
	Side      PosSide        `json:"side"`
	Price     float64        `json:"price"`
	Stop      float64        `json:"stop"`
	TP1       float64        `json:"tp1"`
	TP2       float64        `json:"tp2"`
	OrderType OrderType      `json:"order_type"`
	Meta      datatypes.JSON `json:"meta,omitempty"` // 策略自定义的回溯数据
	Timestamp time.Time      `json:"timestamp"`
}

type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}
