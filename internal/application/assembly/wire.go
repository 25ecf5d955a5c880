package assembly

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/infrastructure/tokenizer"
)

// ProviderSet 装配引擎的依赖注入配置
var ProviderSet = wire.NewSet(
	NewService,
	wire.Bind(new(TokenCounter), new(*tokenizer.Estimator)),
)
