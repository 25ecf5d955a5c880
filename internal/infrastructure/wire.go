package infrastructure

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/infrastructure/cache"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/export"
	"github.com/thinkinglens/backend/internal/infrastructure/llm"
	"github.com/thinkinglens/backend/internal/infrastructure/storage"
	"github.com/thinkinglens/backend/internal/infrastructure/tokenizer"
	"github.com/thinkinglens/backend/internal/infrastructure/watcher"
	"github.com/thinkinglens/backend/internal/infrastructure/websocket"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	storage.ProviderSet,
	cache.ProviderSet,
	llm.ProviderSet,
	tokenizer.ProviderSet,
	export.ProviderSet,
	watcher.ProviderSet,
	websocket.ProviderSet,
)
