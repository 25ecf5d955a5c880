package llm

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/domain/oracle"
)

// ProviderSet LLM 客户端的依赖注入配置
var ProviderSet = wire.NewSet(
	NewClient,
	wire.Bind(new(oracle.Oracle), new(*Client)),
)
