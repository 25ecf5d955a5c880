package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/thinkinglens/backend/internal/domain/events"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
)

// defaultDebounceDelay 写事件防抖延迟，等编辑器分段写入的文件稳定下来
const defaultDebounceDelay = 500 * time.Millisecond

// WatchConfig 上传监听器配置
type WatchConfig struct {
	// UploadsDir 上传根目录，每个会话一个子目录
	UploadsDir string
	// DebounceDelay 防抖延迟
	DebounceDelay time.Duration
}

// UploadWatcher 上传目录监听器
// 监听 uploads/<sessionID>/ 下的文件变化并发布 UploadDetected 事件；
// 摄取端按分块 ID 做幂等 upsert，重复发布同一文件无副作用
type UploadWatcher struct {
	config   WatchConfig
	eventBus events.EventBus
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewUploadWatcher 创建上传监听器
func NewUploadWatcher(config WatchConfig, eventBus events.EventBus) (*UploadWatcher, error) {
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = defaultDebounceDelay
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &UploadWatcher{
		config:         config,
		eventBus:       eventBus,
		watcher:        watcher,
		logger:         log.NewModuleLogger("watcher", "uploads"),
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
	}, nil
}

// Start 启动监听
// 先扫一遍已有文件，补上停机期间落在目录里的上传
func (w *UploadWatcher) Start() error {
	if err := os.MkdirAll(w.config.UploadsDir, 0755); err != nil {
		return err
	}

	w.logger.Info("Starting upload watcher", "dir", w.config.UploadsDir)

	count := w.scanExisting()
	if count > 0 {
		w.logger.Info("Published events for existing uploads", "count", count)
	}

	if err := w.addWatchDirs(); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop 停止监听
func (w *UploadWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.debounceMu.Unlock()

	w.logger.Info("Upload watcher stopped")
}

// scanExisting 扫描已有文件并发布事件
func (w *UploadWatcher) scanExisting() int {
	count := 0
	sessions, err := os.ReadDir(w.config.UploadsDir)
	if err != nil {
		w.logger.Error("Failed to read uploads directory", "error", err)
		return count
	}

	for _, sessDir := range sessions {
		if !sessDir.IsDir() {
			continue
		}
		sessionID := sessDir.Name()
		files, err := os.ReadDir(filepath.Join(w.config.UploadsDir, sessionID))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			w.publish(sessionID, filepath.Join(w.config.UploadsDir, sessionID, f.Name()))
			count++
		}
	}
	return count
}

// addWatchDirs 监听根目录与已有的会话子目录
func (w *UploadWatcher) addWatchDirs() error {
	if err := w.watcher.Add(w.config.UploadsDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.config.UploadsDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := w.watcher.Add(filepath.Join(w.config.UploadsDir, entry.Name())); err != nil {
				w.logger.Debug("Failed to watch session directory",
					"dir", entry.Name(),
					"error", err,
				)
			}
		}
	}
	return nil
}

// watchLoop 事件监听循环
func (w *UploadWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

// handleFsEvent 处理文件系统事件
func (w *UploadWatcher) handleFsEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	// 新建的会话子目录纳入监听
	if info.IsDir() {
		if filepath.Dir(event.Name) == filepath.Clean(w.config.UploadsDir) {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Debug("Failed to watch new session directory", "error", err)
			}
		}
		return
	}

	w.debounceFile(event.Name)
}

// debounceFile 对同一文件的连续写事件做防抖
func (w *UploadWatcher) debounceFile(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists {
		timer.Stop()
	}
	w.debounceTimers[path] = time.AfterFunc(w.config.DebounceDelay, func() {
		sessionID := w.sessionFor(path)
		if sessionID != "" {
			w.publish(sessionID, path)
		}

		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()
	})
}

// sessionFor 从路径解析会话 ID
// uploads/<sessionID>/<file> 之外的路径不属于任何会话
func (w *UploadWatcher) sessionFor(path string) string {
	rel, err := filepath.Rel(w.config.UploadsDir, path)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." || filepath.Dir(dir) != "." {
		return ""
	}
	return dir
}

func (w *UploadWatcher) publish(sessionID, path string) {
	w.eventBus.Publish(&events.UploadEvent{
		SessionID: sessionID,
		FilePath:  path,
		EventTime: time.Now(),
	})
	w.logger.Debug("Upload event emitted",
		"session_id", sessionID,
		"file", filepath.Base(path),
	)
}
