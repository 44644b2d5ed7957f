package marketdata

import (
	"quantflow/internal/model"
)

// 行情能力接口。引擎只消费最新tick和最近的K线窗口，
// 数据从哪里来（券商流/回放/模拟）对引擎透明

type Feed interface {
	// 最新一笔tick，没有数据时found为false
	LatestTick(symbol string) (model.Tick, bool)
	// 最近window根已完成的K线，时间升序
	RecentBars(symbol string, window int) []model.Bar
}
