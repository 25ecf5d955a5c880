package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	appversion "github.com/thinkinglens/backend/internal/application/version"
	"github.com/thinkinglens/backend/internal/application/workflow"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/domain/version"
	"github.com/thinkinglens/backend/internal/infrastructure/export"
	"github.com/thinkinglens/backend/internal/interfaces/http/response"
)

// VersionHandler 版本历史与导出处理器
type VersionHandler struct {
	engine   *workflow.Engine
	versions *appversion.Service
	repo     workflow.SessionRepository
	renderer *export.Renderer
}

// NewVersionHandler 创建版本处理器
func NewVersionHandler(engine *workflow.Engine, versions *appversion.Service, repo workflow.SessionRepository, renderer *export.Renderer) *VersionHandler {
	return &VersionHandler{engine: engine, versions: versions, repo: repo, renderer: renderer}
}

// List 版本历史
// @Summary 版本历史
// @Tags 版本
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/versions [get]
func (h *VersionHandler) List(c *gin.Context) {
	versions, err := h.versions.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, 300001, "读取版本历史失败", err.Error())
		return
	}
	response.Success(c, versions)
}

// Get 单个版本详情
// @Summary 版本详情
// @Tags 版本
// @Produce json
// @Param id path string true "会话ID"
// @Param versionId path int true "版本号"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/versions/{versionId} [get]
func (h *VersionHandler) Get(c *gin.Context) {
	versionID, err := strconv.ParseInt(c.Param("versionId"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, 100001, "版本号无效")
		return
	}

	v, err := h.versions.Get(c.Request.Context(), c.Param("id"), versionID)
	if err != nil {
		h.writeVersionError(c, err)
		return
	}
	response.Success(c, v)
}

// Diff 两个版本间的逐章节差异
// @Summary 版本差异
// @Tags 版本
// @Produce json
// @Param id path string true "会话ID"
// @Param from query int true "基准版本号"
// @Param to query int true "目标版本号"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/versions/diff [get]
func (h *VersionHandler) Diff(c *gin.Context) {
	from, err1 := strconv.ParseInt(c.Query("from"), 10, 64)
	to, err2 := strconv.ParseInt(c.Query("to"), 10, 64)
	if err1 != nil || err2 != nil {
		response.Error(c, http.StatusBadRequest, 100001, "from/to 版本号无效")
		return
	}

	diff, err := h.versions.Diff(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		h.writeVersionError(c, err)
		return
	}
	response.Success(c, diff)
}

// Rollback 回滚到指定版本（以新版本形式追加）
// 回滚持有会话锁并由引擎执行，与进行中的回合互斥
// @Summary 回滚版本
// @Tags 版本
// @Produce json
// @Param id path string true "会话ID"
// @Param versionId path int true "目标版本号"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/versions/{versionId}/rollback [post]
func (h *VersionHandler) Rollback(c *gin.Context) {
	versionID, err := strconv.ParseInt(c.Param("versionId"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, 100001, "版本号无效")
		return
	}

	restored, err := h.engine.Rollback(c.Request.Context(), c.Param("id"), versionID)
	if err != nil {
		h.writeVersionError(c, err)
		return
	}
	response.Success(c, restored)
}

// Export 渲染导出产物
// @Summary 导出 PRD
// @Tags 版本
// @Produce json
// @Param id path string true "会话ID"
// @Param format query string false "导出格式（markdown/html）"
// @Param version query int false "版本号，缺省导出最新版本"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/export [post]
func (h *VersionHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	target, err := h.resolveVersion(c)
	if err != nil {
		h.writeVersionError(c, err)
		return
	}

	sess, err := h.repo.Load(ctx, sessionID)
	if err != nil {
		h.writeVersionError(c, err)
		return
	}
	draft := draftFromVersion(sess, target)

	format := export.Format(c.DefaultQuery("format", "markdown"))
	path, err := h.renderer.Render(sessionID, target.VersionID, draft, format)
	if errors.Is(err, export.ErrUnsupportedFormat) {
		// 未支持的格式降级为 markdown
		path, err = h.renderer.Render(sessionID, target.VersionID, draft, export.FormatMarkdown)
		format = export.FormatMarkdown
	}
	if err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, 300003, "导出失败", err.Error())
		return
	}

	if err := h.versions.AttachExportLink(ctx, sessionID, target.VersionID, path); err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, 300004, "记录导出链接失败", err.Error())
		return
	}
	response.Success(c, gin.H{
		"versionId": target.VersionID,
		"format":    format,
		"path":      path,
	})
}

// resolveVersion 按 query 取目标版本，缺省取最新
func (h *VersionHandler) resolveVersion(c *gin.Context) (*version.Version, error) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	if raw := c.Query("version"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, version.ErrNotFound
		}
		return h.versions.Get(ctx, sessionID, id)
	}

	list, err := h.versions.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, version.ErrNotFound
	}
	return list[len(list)-1], nil
}

// draftFromVersion 从版本快照重建导出用草稿
func draftFromVersion(sess *session.Session, v *version.Version) string {
	draft := "# PRD: " + sess.NormalizedIdea + "\n"
	if sess.Registry == nil {
		return draft
	}
	for _, key := range sess.Registry.Order {
		content, ok := v.Contents[key]
		if !ok || content == "" {
			continue
		}
		draft += "\n## " + sess.Registry.Sections[key].Title + "\n\n" + content + "\n"
	}
	return draft
}

// writeVersionError 版本错误到 HTTP 状态码的映射
func (h *VersionHandler) writeVersionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, version.ErrNotFound):
		response.Error(c, http.StatusNotFound, 300005, "版本不存在")
	case errors.Is(err, session.ErrNotFound):
		response.Error(c, http.StatusNotFound, 200002, "会话不存在")
	case errors.Is(err, session.ErrTurnInFlight):
		response.Error(c, http.StatusConflict, 200003, "该会话有回合正在处理中")
	case errors.Is(err, session.ErrArchived):
		response.Error(c, http.StatusGone, 200004, "会话已归档")
	default:
		response.ErrorWithDetail(c, http.StatusInternalServerError, 300006, "版本操作失败", err.Error())
	}
}
