package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"quantflow/internal/consts"
	"quantflow/pkg/logger"
	"quantflow/pkg/response"
)

// RequestId 用来设置和透传requestId
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		c.Header("X-Request-Id", requestId)

		// 设置requestId到context中，便于后面调用链的透传
		c.Set(consts.RequestId, requestId)
		c.Next()
	}
}

func Logger(c *gin.Context) {
	t := time.Now()
	reqPath := c.Request.URL.Path
	reqId := c.GetString(consts.RequestId)
	method := c.Request.Method
	ip := c.ClientIP()
	requestBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		requestBody = []byte{}
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

	logger.Info("[Request Start]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("method", method),
		logger.Pair("body", string(requestBody)))

	c.Next()

	latency := time.Since(t)
	logger.Info("[Request End]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("status", c.Writer.Status()),
		logger.Pair("cost", latency))
}

// 限制缓存的最大大小为 500，且是并发安全的 LRU 缓存
var reqCache, _ = lru.New(500)
var duplicateThreshold = 1 * time.Second

// AntiDuplicateMiddleware 防止单个客户端IP在阀值内重复提交。
// start/stop/close-all这类控制接口用，不要挂在websocket上
func AntiDuplicateMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + c.Request.URL.Path
		if value, ok := reqCache.Get(key); ok {
			lastRequestTime := value.(time.Time)
			if time.Since(lastRequestTime) < duplicateThreshold {
				response.TooManyRequests(c)
				c.Abort()
				return
			}
		}
		reqCache.Add(key, time.Now())
		c.Next()
	}
}
