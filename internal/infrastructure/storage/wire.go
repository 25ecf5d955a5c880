package storage

import (
	"github.com/google/wire"
	appversion "github.com/thinkinglens/backend/internal/application/version"
)

// ProviderSet 存储层的依赖注入配置
// 会话仓储接口由 cache 包提供（读穿透缓存包装），这里只绑定版本仓储
var ProviderSet = wire.NewSet(
	ProvideDB,
	NewSessionRepository,
	NewVersionRepository,
	wire.Bind(new(appversion.Repository), new(*VersionRepository)),
)
