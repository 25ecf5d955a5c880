package tokenizer

import "github.com/google/wire"

// ProviderSet Token 计数器的依赖注入配置
var ProviderSet = wire.NewSet(Get)
