package model

import "time"

// Plan 一笔待执行的交易意图，创建后不可变，
// 只用来派生幂等id和做风控检查
type Plan struct {
	Symbol    string
	Side      PosSide
	Entry     float64
	Stop      float64
	TP1       float64
	TP2       float64 // 可选，0表示没有第二止盈
	Quantity  int
	Strategy  string
	ConfigSHA string
	OrderType OrderType
	Timestamp time.Time
}

// StopDistance 入场价到止损价的距离
func (p Plan) StopDistance() float64 {
	d := p.Entry - p.Stop
	if d < 0 {
		d = -d
	}
	return d
}
