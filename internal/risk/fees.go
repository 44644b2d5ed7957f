package risk

import (
	"quantflow/internal/model"
)

// 各类标的的费率表。每一项都是成交额（价格×数量，按边计）的确定性函数，
// 下游的风控定量依赖净费后的盈亏，所以逐项精确计算：
// 佣金、交易所经手费、GST（对佣金+经手费+监管费征收）、
// 证券交易税STT、印花税（买方）、监管周转费SEBI

type feeSchedule struct {
	brokeragePct  float64 // 按成交额的佣金比例（每边）
	brokerageCap  float64 // 每边佣金封顶，0表示不封顶
	brokerageFlat float64 // 每边固定佣金（期权），非0时优先
	exchangeTxn   float64 // 交易所经手费（双边）
	sttBuy        float64 // STT 买方
	sttSell       float64 // STT 卖方
	stampBuy      float64 // 印花税（只收买方）
	sebi          float64 // SEBI监管周转费（双边）
}

const gstRate = 0.18

// 费率常数集中放在一张表里，调费率不动调用方
var schedules = map[model.InstrumentClass]feeSchedule{
	model.ClassEquity: {
		brokeragePct: 0.0003, // 0.03%
		brokerageCap: 20,
		exchangeTxn:  0.0000297, // NSE 0.00297%
		sttSell:      0.00025,   // 日内只收卖方
		stampBuy:     0.00003,
		sebi:         0.000001,
	},
	model.ClassFutures: {
		brokeragePct: 0.0003,
		brokerageCap: 20,
		exchangeTxn:  0.0000173,
		sttSell:      0.000125,
		stampBuy:     0.00002,
		sebi:         0.000001,
	},
	model.ClassOptions: {
		brokerageFlat: 20, // 期权每边固定
		exchangeTxn:   0.0003503,
		sttSell:       0.000625, // 按卖出权利金
		stampBuy:      0.00003,
		sebi:          0.000001,
	},
}

func (s feeSchedule) brokeragePerSide(turnover float64) float64 {
	if s.brokerageFlat > 0 {
		return s.brokerageFlat
	}
	b := turnover * s.brokeragePct
	if s.brokerageCap > 0 && b > s.brokerageCap {
		b = s.brokerageCap
	}
	return b
}

// EstimateFees 估算一次完整往返（买入entryPrice、卖出exitPrice）的总费用
func EstimateFees(class model.InstrumentClass, quantity int, entryPrice, exitPrice float64) float64 {
	s, ok := schedules[class]
	if !ok {
		s = schedules[model.ClassEquity]
	}

	buyTurnover := entryPrice * float64(quantity)
	sellTurnover := exitPrice * float64(quantity)
	total := buyTurnover + sellTurnover

	brokerage := s.brokeragePerSide(buyTurnover) + s.brokeragePerSide(sellTurnover)
	exchangeTxn := total * s.exchangeTxn
	sebi := total * s.sebi
	gst := gstRate * (brokerage + exchangeTxn + sebi)
	stt := buyTurnover*s.sttBuy + sellTurnover*s.sttSell
	stamp := buyTurnover * s.stampBuy

	return brokerage + exchangeTxn + sebi + gst + stt + stamp
}
