// Package middleware HTTP 中间件
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// timedWriter 在首次写出前注入耗时响应头
type timedWriter struct {
	gin.ResponseWriter
	start time.Time
}

func (w *timedWriter) setHeader() {
	if !w.Written() {
		ms := time.Since(w.start).Milliseconds()
		w.Header().Set("X-Process-Time-Ms", strconv.FormatInt(ms, 10))
	}
}

func (w *timedWriter) WriteHeader(code int) {
	w.setHeader()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) Write(data []byte) (int, error) {
	w.setHeader()
	return w.ResponseWriter.Write(data)
}

// ProcessTime 在响应头写入本次请求的处理耗时（毫秒）
// 前端据此展示回合延迟，便于观察预算内外的表现
func ProcessTime() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &timedWriter{ResponseWriter: c.Writer, start: time.Now()}
		c.Next()
	}
}
