package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantflow/internal/consts"
	"quantflow/pkg/errors"
	"quantflow/pkg/errors/ecode"
)

// 代表响应给客户端的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`       // 响应数据
}

// 发送json格式数据
func JSON(c *gin.Context, err error, data interface{}) {
	code, message := errors.DecodeErr(err)
	// 失败的话返回http状态码400，成功200
	var httpStatus int
	if code != ecode.Success {
		httpStatus = http.StatusBadRequest
	} else {
		httpStatus = http.StatusOK
	}
	c.JSON(httpStatus, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      code,
		Message:   message,
		Data:      data,
	})
}

// 请求频繁，返回429
func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.BadRequest,
		Message:   "The request is too frequent. Please try again later.",
		Data:      nil,
	})
}

// 非法请求，返回400
func BadRequests(c *gin.Context, message string) {
	if message == "" {
		message = "invalid request"
	}
	c.JSON(http.StatusBadRequest, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.BadRequest,
		Message:   message,
		Data:      nil,
	})
}
