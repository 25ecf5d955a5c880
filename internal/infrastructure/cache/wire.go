package cache

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/application/workflow"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/storage"
)

// ProvideSessionRepository 用读穿透缓存包装持久会话仓储
func ProvideSessionRepository(inner *storage.SessionRepository, cfg *config.Config) workflow.SessionRepository {
	return NewSessionCache(inner, cfg)
}

// ProviderSet 缓存层的依赖注入配置
var ProviderSet = wire.NewSet(
	ProvideSessionRepository,
)
