package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/internal/document/lifecycle"
	"github.com/elshodweb/diploma-backend/internal/document/service"
	"github.com/elshodweb/diploma-backend/internal/ledger"
	"github.com/elshodweb/diploma-backend/internal/models"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
	"github.com/elshodweb/diploma-backend/pkg/logger"
	"github.com/elshodweb/diploma-backend/pkg/middleware"
)

// DefaultMaxUpload caps multipart uploads when no limit is configured.
const DefaultMaxUpload int64 = 32 << 20

// Handler exposes the document coordinator over HTTP. Every route expects
// middleware.AuthMiddleware to have stored a principal.
type Handler struct {
	svc       service.Service
	maxUpload int64
}

func New(svc service.Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &Handler{svc: svc, maxUpload: maxUpload}
}

// RegisterDocumentRoutes mounts the document API under /api/documents on r.
func RegisterDocumentRoutes(r gin.IRouter, svc service.Service, maxUpload int64) {
	New(svc, maxUpload).Register(r)
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/documents")
	g.POST("", h.Upload)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/file", h.Download)
	g.GET("/:id/history", h.History)
	g.GET("/:id/history/verify", h.VerifyHistory)
	g.PUT("/:id/status", h.ChangeStatus)
	g.PATCH("/:id", h.UpdateMetadata)
	g.DELETE("/:id", h.Delete)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrStorageUnavailable), errors.Is(err, apperrors.ErrCommitFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrIntegrityCheckFailed):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		switch {
		case errors.Is(err, apperrors.ErrIntegrityCheckFailed):
			c.JSON(code, gin.H{"error": apperrors.ErrIntegrityCheckFailed.Error()})
		case code == http.StatusServiceUnavailable:
			c.JSON(code, gin.H{"error": "temporarily unavailable"})
		default:
			c.JSON(code, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return p, ok
}

// Upload accepts multipart form fields file, title and description.
func (h *Handler) Upload(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if c.Request.ContentLength > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	title := c.PostForm("title")
	if title == "" {
		title = fh.Filename
	}
	d, err := h.svc.Ingest(c.Request.Context(), p.ID, title, c.PostForm("description"), data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) List(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	list, err := h.svc.ListAccessible(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// documentView embeds the ledger entries of a document.
type documentView struct {
	*document.Document
	Entries []ledger.Entry `json:"entries"`
}

func (h *Handler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	entries, err := h.collect(c, d.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentView{Document: d, Entries: entries})
}

func (h *Handler) Download(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := h.svc.Retrieve(c.Request.Context(), d.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("X-Content-Hash", d.ContentHash)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// canSeeHistory lets owners read the history of their documents and admins
// read any history, including that of deleted documents.
func (h *Handler) canSeeHistory(c *gin.Context, id string) bool {
	p, ok := principal(c)
	if !ok {
		return false
	}
	_, err := h.svc.Get(c.Request.Context(), id, p)
	if err == nil || (p.IsAdmin() && errors.Is(err, apperrors.ErrNotFound)) {
		return true
	}
	writeError(c, err)
	return false
}

func (h *Handler) collect(c *gin.Context, id string) ([]ledger.Entry, error) {
	out := []ledger.Entry{}
	for e, err := range h.svc.History(c.Request.Context(), id) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (h *Handler) History(c *gin.Context) {
	id := c.Param("id")
	if !h.canSeeHistory(c, id) {
		return
	}
	entries, err := h.collect(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) VerifyHistory(c *gin.Context) {
	id := c.Param("id")
	if !h.canSeeHistory(c, id) {
		return
	}
	res, err := h.svc.VerifyHistory(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	valid := true
	for _, v := range res {
		valid = valid && v.Valid
	}
	c.JSON(http.StatusOK, gin.H{"documentId": id, "valid": valid, "entries": res})
}

func (h *Handler) ChangeStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := lifecycle.ParseStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	d, err := h.svc.ChangeStatus(c.Request.Context(), c.Param("id"), status, p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateMetadata(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.UpdateMetadata(c.Request.Context(), c.Param("id"), req.Title, req.Description, p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), p); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
