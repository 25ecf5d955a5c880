package workflow

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/infrastructure/tokenizer"
)

// ProviderSet 工作流引擎的依赖注入配置
var ProviderSet = wire.NewSet(
	NewBudgeter,
	NewEngine,
	wire.Bind(new(TokenCounter), new(*tokenizer.Estimator)),
)
