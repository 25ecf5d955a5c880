package export

import "github.com/google/wire"

// ProviderSet 导出层的依赖注入配置
var ProviderSet = wire.NewSet(
	NewRenderer,
)
