// Package handler HTTP 请求处理器
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thinkinglens/backend/internal/application/workflow"
	"github.com/thinkinglens/backend/internal/domain/session"
	"github.com/thinkinglens/backend/internal/interfaces/http/response"
)

// SessionHandler 会话与回合处理器
type SessionHandler struct {
	engine *workflow.Engine
	repo   workflow.SessionRepository
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(engine *workflow.Engine, repo workflow.SessionRepository) *SessionHandler {
	return &SessionHandler{engine: engine, repo: repo}
}

// StartSessionRequest 创建会话请求
type StartSessionRequest struct {
	UserID string `json:"userId"`
	Idea   string `json:"idea" binding:"required"`
}

// MessageRequest 回合消息请求
type MessageRequest struct {
	Message        string `json:"message" binding:"required"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// AskRequest 问答请求
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Start 创建会话并处理首条想法
// @Summary 创建会话
// @Tags 会话
// @Accept json
// @Produce json
// @Param body body StartSessionRequest true "产品想法"
// @Success 200 {object} response.Response
// @Router /sessions [post]
func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 100001, "参数错误")
		return
	}
	if req.UserID == "" {
		req.UserID = "local"
	}

	result, err := h.engine.StartSession(c.Request.Context(), req.UserID, req.Idea)
	if err != nil {
		response.ErrorWithDetail(c, http.StatusBadGateway, 200001, "创建会话失败", err.Error())
		return
	}
	response.Success(c, result)
}

// Message 处理一条用户消息
// @Summary 提交回合消息
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body MessageRequest true "消息内容"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /sessions/{id}/message [post]
func (h *SessionHandler) Message(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 100001, "参数错误")
		return
	}

	result, err := h.engine.SubmitTurn(c.Request.Context(), c.Param("id"), req.Message, req.IdempotencyKey)
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	response.Success(c, result)
}

// writeTurnError 回合错误到 HTTP 状态码的映射
func (h *SessionHandler) writeTurnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		response.Error(c, http.StatusNotFound, 200002, "会话不存在")
	case errors.Is(err, session.ErrTurnInFlight):
		response.Error(c, http.StatusConflict, 200003, "上一回合尚未完成，请稍后重试")
	case errors.Is(err, session.ErrArchived):
		response.Error(c, http.StatusGone, 200004, "会话已归档")
	default:
		response.ErrorWithDetail(c, http.StatusBadGateway, 200005, "处理回合失败", err.Error())
	}
}

// Get 读取会话状态
// @Summary 读取会话
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.ErrorResponse
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.repo.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	response.Success(c, sess)
}

// Draft 读取当前装配草稿（轻量通道，只读）
// @Summary 读取当前草稿
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/prd [get]
func (h *SessionHandler) Draft(c *gin.Context) {
	res, sess, err := h.engine.CurrentDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	response.Success(c, gin.H{
		"draft":    res.Draft,
		"issues":   res.Issues,
		"progress": sess.Registry.Progress(),
		"stage":    sess.Stage,
	})
}

// Refine 显式请求全量装配与润色
// @Summary 润色草稿
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/refine [post]
func (h *SessionHandler) Refine(c *gin.Context) {
	res, err := h.engine.RefineDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	response.Success(c, gin.H{
		"draft":  res.Draft,
		"issues": res.Issues,
	})
}

// Ask 受限上下文问答
// @Summary 就 PRD 提问
// @Tags 会话
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param body body AskRequest true "问题"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/ask [post]
func (h *SessionHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, 100001, "参数错误")
		return
	}

	answer, err := h.engine.Ask(c.Request.Context(), c.Param("id"), req.Question)
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	response.Success(c, gin.H{"answer": answer})
}

// Diagram 生成当前草稿的 mermaid 图
// @Summary 生成图表
// @Tags 会话
// @Produce json
// @Param id path string true "会话ID"
// @Param kind query string false "图表类型（flowchart/sequence）"
// @Success 200 {object} response.Response
// @Router /sessions/{id}/diagram [post]
func (h *SessionHandler) Diagram(c *gin.Context) {
	diagram, err := h.engine.Diagram(c.Request.Context(), c.Param("id"), c.Query("kind"))
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	response.Success(c, gin.H{"mermaid": diagram})
}
