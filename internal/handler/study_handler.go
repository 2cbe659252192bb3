package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"studylab/internal/service"
)

const streamHeartbeat = 15 * time.Second

type StudyHandler struct {
	studies *service.StudyService
}

func NewStudyHandler(studies *service.StudyService) *StudyHandler {
	return &StudyHandler{studies: studies}
}

// CreateStudy 创建研究，默认立即开始运行
func (h *StudyHandler) CreateStudy(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var in service.CreateStudyInput
	if !bindJSON(c, &in) {
		return
	}
	study, err := h.studies.Create(c.Request.Context(), uid, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"study": study})
}

func (h *StudyHandler) ListStudies(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	list, err := h.studies.List(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"studies": list})
}

func (h *StudyHandler) GetStudy(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	study, err := h.studies.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"study": study})
}

func (h *StudyHandler) DeleteStudy(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if err := h.studies.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// RunStudy 运行或重跑；运行在后台进行，立即返回 running 状态
func (h *StudyHandler) RunStudy(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	st, err := h.studies.Start(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"study_id": c.Param("id"), "state": st})
}

func (h *StudyHandler) GetResults(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	results, err := h.studies.Results(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

// GetProgress 轮询用快照
func (h *StudyHandler) GetProgress(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	snap, err := h.studies.Progress(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// StreamProgress SSE 推送。首个事件为 connected；收到终态事件或客户端断开后结束
func (h *StudyHandler) StreamProgress(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ch, unsubscribe, err := h.studies.Subscribe(ctx, uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e)
			return !e.Terminal()
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// ExportStudy 结果 CSV 下载
func (h *StudyHandler) ExportStudy(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	filename, data, err := h.studies.Export(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// GetSummary JSON 汇总；format=markdown 时返回 Markdown 报告
func (h *StudyHandler) GetSummary(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	sum, err := h.studies.Summary(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("format") == "markdown" {
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(service.RenderSummaryMarkdown(sum)))
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}
