// Package tokenizer 提供基于 tiktoken 的 Token 计数能力
// 上下文预算器与快照裁剪依赖这里的精确计数
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// 在包初始化时设置离线加载器，避免运行时下载编码文件
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Estimator Token 计数器
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	instance *Estimator
	once     sync.Once
	loadErr  error
)

// Get 获取 Estimator 单例
// 使用 cl100k_base 编码（GPT-4 系模型兼容）；单例避免重复加载编码文件
func Get() (*Estimator, error) {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			loadErr = err
			return
		}
		instance = &Estimator{encoding: enc}
	})

	if loadErr != nil {
		return nil, loadErr
	}
	return instance, nil
}

// CountTokens 计算文本的 Token 数量
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.encoding.Encode(text, nil, nil))
}

// TruncateTokens 将文本截断到至多 budget 个 Token
// 在词边界附近截断，超预算时追加省略标记
func (e *Estimator) TruncateTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	e.mu.RLock()
	tokens := e.encoding.Encode(text, nil, nil)
	e.mu.RUnlock()
	if len(tokens) <= budget {
		return text
	}

	e.mu.RLock()
	truncated := e.encoding.Decode(tokens[:budget])
	e.mu.RUnlock()

	// 回退到最近的空白，避免把词切成两半
	if idx := strings.LastIndexAny(truncated, " \n\t"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + " …"
}
