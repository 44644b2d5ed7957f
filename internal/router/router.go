package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantflow/internal/handler/system"
	"quantflow/internal/handler/ws"
	"quantflow/internal/middleware"
)

type ApiRouter struct {
	sysHandler *system.Handler
	wsGateway  *ws.PositionsGateway
}

func NewApiRouter(sys *system.Handler, gw *ws.PositionsGateway) *ApiRouter {
	return &ApiRouter{sysHandler: sys, wsGateway: gw}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId(), middleware.Logger, gin.Recovery())

	g.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "\r\nSuccess")
	})

	base := g.Group("/api/v1")

	s := base.Group("/system")
	{
		// 控制类接口防重复提交
		s.POST("/start", middleware.AntiDuplicateMiddleware(), api.sysHandler.Start())
		s.POST("/stop", middleware.AntiDuplicateMiddleware(), api.sysHandler.Stop())
		s.POST("/close-all", middleware.AntiDuplicateMiddleware(), api.sysHandler.CloseAll())

		s.GET("/state", api.sysHandler.State())
		s.GET("/supervisor", api.sysHandler.Supervisor())
		s.GET("/positions", api.sysHandler.Positions())
		s.GET("/audit", api.sysHandler.Audit())
	}

	// 实时推送不挂防抖
	base.GET("/ws/positions", api.wsGateway.ServeWS)
}
