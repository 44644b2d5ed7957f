package strategy

import (
	"errors"
	"sync"
)

var (
	// 策略注册表，支持多策略注册
	registry = make(map[string]Strategy)
	mu       sync.RWMutex
)

func Register(s Strategy) {
	mu.Lock()
	defer mu.Unlock()
	registry[s.Name()] = s
}

func Get(name string) (Strategy, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, errors.New("strategy not found: " + name)
	}
	return s, nil
}

// All 返回所有已注册策略，扫描引擎每个周期遍历执行
func All() []Strategy {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Strategy, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	return out
}
