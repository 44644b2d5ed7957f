package validator

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"quantflow/internal/model"
)

var once sync.Once

// LazyInitGinValidator 替换gin默认validator的行为：
// 错误信息里用json字段名，注册领域校验规则
func LazyInitGinValidator(language string) {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// 持仓方向枚举
		_ = v.RegisterValidation("posside", func(fl validator.FieldLevel) bool {
			s := model.PosSide(fl.Field().String())
			return s == model.Long || s == model.Short
		})
	})
}
