package watcher

import (
	"github.com/google/wire"
	"github.com/thinkinglens/backend/internal/domain/events"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
)

// ProvideEventBus 提供事件总线实例
func ProvideEventBus() events.EventBus {
	return NewEventBus()
}

// ProvideUploadWatcher 提供上传监听器实例
func ProvideUploadWatcher(eventBus events.EventBus, cfg *config.Config) (*UploadWatcher, error) {
	return NewUploadWatcher(WatchConfig{UploadsDir: cfg.UploadsDir()}, eventBus)
}

// ProviderSet 监听层的依赖注入配置
var ProviderSet = wire.NewSet(
	ProvideEventBus,
	ProvideUploadWatcher,
)
