package handler

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"

	"studylab/internal/service"
)

const (
	maxDatasetBytes     = 50 << 20
	defaultPreviewLimit = 20
)

type DatasetHandler struct {
	catalog *service.CatalogService
}

func NewDatasetHandler(catalog *service.CatalogService) *DatasetHandler {
	return &DatasetHandler{catalog: catalog}
}

// UploadDataset multipart 上传：file 为 CSV，name 可选
func (h *DatasetHandler) UploadDataset(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件: " + err.Error()})
		return
	}
	if fh.Size > maxDatasetBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("文件超过 %d 字节", maxDatasetBytes)})
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDatasetBytes))
	if err != nil {
		respondError(c, err)
		return
	}

	d, err := h.catalog.UploadDataset(c.Request.Context(), uid, c.PostForm("name"), path.Base(fh.Filename), data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dataset": d})
}

func (h *DatasetHandler) ListDatasets(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	list, err := h.catalog.ListDatasets(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": list})
}

func (h *DatasetHandler) GetDataset(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	d, err := h.catalog.GetDataset(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": d})
}

// DownloadDataset 原始 CSV
func (h *DatasetHandler) DownloadDataset(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	d, data, err := h.catalog.DownloadDataset(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	filename := d.Filename
	if filename == "" {
		filename = "data.csv"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// PreviewDataset 前 limit 行，默认 20
func (h *DatasetHandler) PreviewDataset(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	limit := defaultPreviewLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须是非负整数"})
			return
		}
		limit = n
	}
	p, err := h.catalog.PreviewDataset(c.Request.Context(), uid, c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *DatasetHandler) DeleteDataset(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteDataset(c.Request.Context(), uid, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}
