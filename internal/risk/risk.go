package risk

import (
	"math"

	"quantflow/conf"
	"quantflow/internal/model"
)

// 风控定量：费率估算、仓位定量、组合级闸门。
// 纯计算，除配置外无状态

type Manager struct {
	cfg conf.RiskConfig
}

func NewManager(cfg conf.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

func (m *Manager) Capital() float64 {
	return m.cfg.Capital
}

// EstimateFees 按标的类别估算一次往返的总费用
func (m *Manager) EstimateFees(ins model.Instrument, quantity int, entryPrice, exitPrice float64) float64 {
	return EstimateFees(ins.Class, quantity, entryPrice, exitPrice)
}

// CalculatePositionSize 给定资金、单笔风险比例、止损距离和价格，算出数量。
// 保证两条上界：按止损距离算的风险不超过 capital×riskPct/100，
// 名义市值不超过可用资金
func CalculatePositionSize(capital, riskPct, stopDistance, price float64) int {
	if capital <= 0 || riskPct <= 0 || stopDistance <= 0 || price <= 0 {
		return 0
	}
	riskAmount := capital * riskPct / 100
	rawQty := riskAmount / stopDistance
	maxAffordable := capital / price
	qty := math.Min(rawQty, maxAffordable)
	return int(math.Floor(qty))
}

// SizeFor 在CalculatePositionSize基础上再按标的手数向下取整
func (m *Manager) SizeFor(ins model.Instrument, stopDistance, price float64) int {
	qty := CalculatePositionSize(m.cfg.Capital, m.cfg.RiskPct, stopDistance, price)
	if ins.LotSize > 1 {
		qty = (qty / ins.LotSize) * ins.LotSize
	}
	return qty
}

// PortfolioHeat 当前所有未平仓位占用的总风险（占资金的百分比）。
// 每个仓位的风险按 止损距离×数量 计
func (m *Manager) PortfolioHeat(positions []model.Position) float64 {
	if m.cfg.Capital <= 0 {
		return 0
	}
	var atRisk float64
	for _, p := range positions {
		if p.Status != model.PositionOpen {
			continue
		}
		dist := math.Abs(p.EntryPrice - p.StopLoss)
		atRisk += dist * float64(p.Quantity)
	}
	return atRisk / m.cfg.Capital * 100
}

// AllowNewEntry 加上新仓位的风险后是否仍在组合热度上限内
func (m *Manager) AllowNewEntry(positions []model.Position, plan model.Plan) bool {
	if m.cfg.Capital <= 0 {
		return false
	}
	added := plan.StopDistance() * float64(plan.Quantity) / m.cfg.Capital * 100
	return m.PortfolioHeat(positions)+added <= m.cfg.MaxPortfolioHeatPct
}

// DailyLossBreached 当日已实现+浮动亏损是否触及熔断线
func (m *Manager) DailyLossBreached(dailyPnL float64) bool {
	if m.cfg.Capital <= 0 {
		return false
	}
	lossPct := -dailyPnL / m.cfg.Capital * 100
	return lossPct >= m.cfg.DailyLossStopPct
}
