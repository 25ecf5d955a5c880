package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	apprag "github.com/thinkinglens/backend/internal/application/rag"
	"github.com/thinkinglens/backend/internal/domain/rag"
	"github.com/thinkinglens/backend/internal/infrastructure/config"
	"github.com/thinkinglens/backend/internal/interfaces/http/response"
)

// UploadHandler 参考文档上传处理器
type UploadHandler struct {
	rag        *apprag.Service
	uploadsDir string
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(ragSvc *apprag.Service, cfg *config.Config) *UploadHandler {
	return &UploadHandler{rag: ragSvc, uploadsDir: cfg.UploadsDir()}
}

// Upload 接收上传文件并立即摄取
// 文件落在会话上传目录下；检索能力未配置时只保存不摄取
// @Summary 上传参考文档
// @Tags 检索
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "会话ID"
// @Param file formData file true "文档文件"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/upload [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	sessionID := c.Param("id")

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, 100001, "缺少上传文件")
		return
	}

	dir := filepath.Join(h.uploadsDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, 400001, "保存上传文件失败", err.Error())
		return
	}
	dest := filepath.Join(dir, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		response.ErrorWithDetail(c, http.StatusInternalServerError, 400001, "保存上传文件失败", err.Error())
		return
	}

	chunks, err := h.rag.IngestFile(c.Request.Context(), sessionID, dest)
	if errors.Is(err, rag.ErrNotConfigured) {
		response.Success(c, gin.H{
			"saved":    filepath.Base(dest),
			"ingested": false,
			"note":     "检索能力未配置，文件已保存但不会参与检索",
		})
		return
	}
	if err != nil {
		response.ErrorWithDetail(c, http.StatusBadGateway, 400002, "文档摄取失败", err.Error())
		return
	}

	response.Success(c, gin.H{
		"saved":    filepath.Base(dest),
		"ingested": true,
		"chunks":   chunks,
	})
}
