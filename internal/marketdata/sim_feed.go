package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"quantflow/internal/model"
)

// 模拟行情：每个标的做随机游走，适合本地联调。
// 构造时预生成一段K线历史，策略启动即有足够的回看数据

type series struct {
	price float64
	tick  model.Tick
	bars  []model.Bar
}

type SimFeed struct {
	mu      sync.RWMutex
	symbols map[string]*series
	maxBars int
	rng     *rand.Rand
}

func NewSimFeed(symbols []string, history int) *SimFeed {
	f := &SimFeed{
		symbols: make(map[string]*series),
		maxBars: history * 2,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, sym := range symbols {
		base := 500 + f.rng.Float64()*3000
		s := &series{price: base}
		// 预生成历史K线
		t := time.Now().Add(-time.Duration(history) * time.Minute)
		for i := 0; i < history; i++ {
			s.bars = append(s.bars, f.nextBar(s, t.Add(time.Duration(i)*time.Minute)))
		}
		s.tick = model.Tick{Symbol: sym, Price: s.price, Timestamp: time.Now()}
		f.symbols[sym] = s
	}
	return f
}

// 随机游走生成下一根K线，波动±0.5%
func (f *SimFeed) nextBar(s *series, ts time.Time) model.Bar {
	open := s.price
	high, low := open, open
	for i := 0; i < 4; i++ {
		s.price += (f.rng.Float64()*0.01 - 0.005) * s.price
		if s.price > high {
			high = s.price
		}
		if s.price < low {
			low = s.price
		}
	}
	return model.Bar{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     s.price,
		Volume:    int64(1000 + f.rng.Intn(9000)),
	}
}

// Run 按interval推进行情，直到ctx取消
func (f *SimFeed) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.mu.Lock()
			for sym, s := range f.symbols {
				bar := f.nextBar(s, now)
				s.bars = append(s.bars, bar)
				if len(s.bars) > f.maxBars {
					s.bars = s.bars[len(s.bars)-f.maxBars:]
				}
				s.tick = model.Tick{Symbol: sym, Price: s.price, Volume: bar.Volume, Timestamp: now}
			}
			f.mu.Unlock()
		}
	}
}

func (f *SimFeed) LatestTick(symbol string) (model.Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.symbols[symbol]
	if !ok {
		return model.Tick{}, false
	}
	return s.tick, true
}

func (f *SimFeed) RecentBars(symbol string, window int) []model.Bar {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.symbols[symbol]
	if !ok || len(s.bars) == 0 {
		return nil
	}
	n := len(s.bars)
	if window > n {
		window = n
	}
	out := make([]model.Bar, window)
	copy(out, s.bars[n-window:])
	return out
}
