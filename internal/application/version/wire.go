package version

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/application/workflow"
)

// ProviderSet 版本管理的依赖注入配置
var ProviderSet = wire.NewSet(
	NewService,
	wire.Bind(new(workflow.VersionStore), new(*Service)),
)
