package websocket

import "github.com/google/wire"

// ProviderSet WebSocket Hub 的依赖注入配置
var ProviderSet = wire.NewSet(
	NewHub,
)
