package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"quantflow/internal/orchestrator"
	"quantflow/pkg/logger"
)

// 仓位快照的websocket推送，前端盯盘用。
// 只读，不接受客户端指令

const pushInterval = 2 * time.Second

type PositionsGateway struct {
	orch     *orchestrator.Orchestrator
	upgrader websocket.Upgrader
}

func NewPositionsGateway(orch *orchestrator.Orchestrator) *PositionsGateway {
	return &PositionsGateway{
		orch: orch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type snapshotMsg struct {
	Type      string      `json:"type"`
	State     string      `json:"state"`
	Positions interface{} `json:"positions"`
	Timestamp int64       `json:"timestamp"`
}

// ServeWS 建立连接后按固定间隔推送仓位快照
func (g *PositionsGateway) ServeWS(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", logger.Pair("err", err.Error()))
		return
	}
	defer conn.Close()

	// 读协程只为感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msg := snapshotMsg{
				Type:      "positions",
				State:     string(g.orch.State()),
				Positions: g.orch.Positions(),
				Timestamp: time.Now().UnixMilli(),
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Error("snapshot marshal failed", logger.Pair("err", err.Error()))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("ws client gone", logger.Pair("err", err.Error()))
				return
			}
		}
	}
}
