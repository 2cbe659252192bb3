package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studylab/internal/service"
)

// CatalogHandler 分类器与约束
type CatalogHandler struct {
	catalog *service.CatalogService
}

func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// ListClassifiers 列出当前用户的分类器
func (h *CatalogHandler) ListClassifiers(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	list, err := h.catalog.ListClassifiers(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classifiers": list})
}

func (h *CatalogHandler) CreateClassifier(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var in service.ClassifierInput
	if !bindJSON(c, &in) {
		return
	}
	created, err := h.catalog.CreateClassifier(c.Request.Context(), uid, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"classifier": created})
}

func (h *CatalogHandler) GetClassifier(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	got, err := h.catalog.GetClassifier(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classifier": got})
}

func (h *CatalogHandler) UpdateClassifier(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var in service.ClassifierInput
	if !bindJSON(c, &in) {
		return
	}
	updated, err := h.catalog.UpdateClassifier(c.Request.Context(), uid, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classifier": updated})
}

// DeleteClassifier 软删除，已挂载到研究的记录仍可被读取
func (h *CatalogHandler) DeleteClassifier(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteClassifier(c.Request.Context(), uid, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

func (h *CatalogHandler) ListConstraints(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	list, err := h.catalog.ListConstraints(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"constraints": list})
}

func (h *CatalogHandler) CreateConstraint(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var in service.ConstraintInput
	if !bindJSON(c, &in) {
		return
	}
	created, err := h.catalog.CreateConstraint(c.Request.Context(), uid, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"constraint": created})
}

func (h *CatalogHandler) GetConstraint(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	got, err := h.catalog.GetConstraint(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"constraint": got})
}

func (h *CatalogHandler) UpdateConstraint(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var in service.ConstraintInput
	if !bindJSON(c, &in) {
		return
	}
	updated, err := h.catalog.UpdateConstraint(c.Request.Context(), uid, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"constraint": updated})
}

func (h *CatalogHandler) DeleteConstraint(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteConstraint(c.Request.Context(), uid, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}
