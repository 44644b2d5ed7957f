package strategy

import (
	"time"

	"quantflow/internal/model"
)

// 策略接口定义

// Context 单个标的一次评估所需的全部上下文，
// 由扫描引擎在每个周期组装后传入
type Context struct {
	Timestamp     time.Time
	Instrument    model.Instrument
	LastTick      model.Tick
	Bars          []model.Bar // 时间升序，最后一根最新
	Equity        float64
	OpenPositions []model.Position
	ConfigSHA     string
}

// Strategy 信号生成器。只负责产出候选信号，
// 定量、风控和下单都在引擎侧完成
type Strategy interface {
	Name() string
	Evaluate(c Context) []model.Signal
}
