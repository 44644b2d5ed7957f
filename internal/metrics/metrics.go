package metrics

import (
	"sync/atomic"
)

// 进程内指标计数器。没有外部采集端，
// 通过系统接口的状态查询暴露快照

type Metrics struct {
	ScanCycles      atomic.Int64 // 完成的扫描周期数
	CyclesFailed    atomic.Int64 // 异常中断的周期数
	CyclesSkipped   atomic.Int64 // 因失去领导权跳过的周期数
	SignalsSeen     atomic.Int64
	SignalsRejected atomic.Int64 // 被风控拦下的信号数
	OrdersSubmitted atomic.Int64
	OrderEvents     atomic.Int64
	GroupsClosed    atomic.Int64

	state atomic.Value // string
}

func New() *Metrics {
	m := &Metrics{}
	m.state.Store("STOPPED")
	return m
}

func (m *Metrics) SetState(s string) {
	m.state.Store(s)
}

func (m *Metrics) State() string {
	return m.state.Load().(string)
}

// Snapshot 汇总成map，挂到状态接口上
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"state":            m.State(),
		"scan_cycles":      m.ScanCycles.Load(),
		"cycles_failed":    m.CyclesFailed.Load(),
		"cycles_skipped":   m.CyclesSkipped.Load(),
		"signals_seen":     m.SignalsSeen.Load(),
		"signals_rejected": m.SignalsRejected.Load(),
		"orders_submitted": m.OrdersSubmitted.Load(),
		"order_events":     m.OrderEvents.Load(),
		"groups_closed":    m.GroupsClosed.Load(),
	}
}
