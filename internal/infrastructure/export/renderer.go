// Package export 导出产物渲染
package export

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/infrastructure/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Format 导出格式
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ErrUnsupportedFormat 请求了未支持的导出格式
var ErrUnsupportedFormat = errors.New("unsupported export format")

// htmlShell HTML 导出的外层骨架
const htmlShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { max-width: 860px; margin: 2rem auto; padding: 0 1rem; font-family: -apple-system, sans-serif; line-height: 1.6; }
h1, h2 { border-bottom: 1px solid #eee; padding-bottom: .3rem; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .3rem .6rem; }
</style>
</head>
<body>
%s</body>
</html>
`

// Renderer 把装配完成的草稿渲染成导出产物并写入导出目录
type Renderer struct {
	exportsDir string
	markdown   goldmark.Markdown
	logger     *slog.Logger
}

// NewRenderer 创建渲染器
func NewRenderer(cfg *config.Config) *Renderer {
	return &Renderer{
		exportsDir: cfg.ExportsDir(),
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
		),
		logger: log.NewModuleLogger("export", "renderer"),
	}
}

// Render 渲染草稿并落盘，返回产物路径
// pdf 等未支持的格式返回 ErrUnsupportedFormat，调用方降级为 markdown
func (r *Renderer) Render(sessionID string, versionID int64, draft string, format Format) (string, error) {
	var (
		payload []byte
		ext     string
	)
	switch format {
	case FormatMarkdown, "":
		payload = []byte(draft)
		ext = "md"
	case FormatHTML:
		var body bytes.Buffer
		if err := r.markdown.Convert([]byte(draft), &body); err != nil {
			return "", fmt.Errorf("rendering html: %w", err)
		}
		payload = []byte(fmt.Sprintf(htmlShell, firstHeading(draft), body.String()))
		ext = "html"
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	dir := filepath.Join(r.exportsDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("v%d.%s", versionID, ext))
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("writing export file: %w", err)
	}

	r.logger.Info("Export rendered",
		"session_id", sessionID,
		"version_id", versionID,
		"format", format,
		"path", path,
	)
	return path, nil
}

// firstHeading 取文档首个标题作为 HTML 标题
func firstHeading(draft string) string {
	for _, line := range bytes.Split([]byte(draft), []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if bytes.HasPrefix(trimmed, []byte("#")) {
			return string(bytes.TrimSpace(bytes.TrimLeft(trimmed, "#")))
		}
	}
	return "PRD"
}
