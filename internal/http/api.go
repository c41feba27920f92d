// Package http exposes the orchestration core to UI collaborators: snapshot
// queries of the state store and command entry points for torrents and
// transcode jobs.
package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"seedforge/internal/domain"
	"seedforge/internal/indexer"
	"seedforge/internal/service"
	"seedforge/internal/state"
	"seedforge/internal/storage"
	"seedforge/internal/transcode"
)

// Handler wires HTTP routes to the orchestration core.
type Handler struct {
	torrents service.TorrentService
	pool     *transcode.Pool
	store    *state.Store
	storage  storage.Service
	bucket   string
	searcher indexer.Searcher
	auth     *Authenticator
}

func NewHandler(torrents service.TorrentService, pool *transcode.Pool, store *state.Store, storageSvc storage.Service, bucket string, searcher indexer.Searcher, auth *Authenticator) *Handler {
	return &Handler{
		torrents: torrents,
		pool:     pool,
		store:    store,
		storage:  storageSvc,
		bucket:   bucket,
		searcher: searcher,
		auth:     auth,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	router.POST("/api/auth/login", h.login)

	api := router.Group("/api")
	api.Use(h.auth.Middleware())
	{
		api.POST("/torrents", h.addTorrent)
		api.GET("/torrents", h.listTorrents)
		api.GET("/torrents/:id", h.getTorrent)
		api.POST("/torrents/:id/pause", h.pauseTorrent)
		api.POST("/torrents/:id/resume", h.resumeTorrent)
		api.DELETE("/torrents/:id", h.removeTorrent)

		api.GET("/jobs", h.listJobs)
		api.GET("/jobs/:id", h.getJob)
		api.POST("/jobs/:id/cancel", h.cancelJob)
		api.DELETE("/jobs/:id", h.clearJob)

		api.GET("/search", h.search)
		api.GET("/storage/objects", h.listObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

type addTorrentRequest struct {
	Source string `json:"source" binding:"required"`
}

func (h *Handler) addTorrent(c *gin.Context) {
	var req addTorrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.torrents.Add(c.Request.Context(), req.Source)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, torrentToResponse(*t))
}

func (h *Handler) listTorrents(c *gin.Context) {
	torrents := h.torrents.List()
	resp := make([]TorrentResponse, len(torrents))
	for i := range torrents {
		resp[i] = torrentToResponse(torrents[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTorrent(c *gin.Context) {
	t, err := h.torrents.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, torrentToResponse(t))
}

func (h *Handler) pauseTorrent(c *gin.Context) {
	if err := h.torrents.Pause(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": c.Param("id")})
}

func (h *Handler) resumeTorrent(c *gin.Context) {
	if err := h.torrents.Resume(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": c.Param("id")})
}

func (h *Handler) removeTorrent(c *gin.Context) {
	if err := h.torrents.Remove(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs := h.store.Jobs()
	resp := make([]JobResponse, len(jobs))
	for i := range jobs {
		resp[i] = jobToResponse(jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getJob(c *gin.Context) {
	job, ok := h.store.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *Handler) cancelJob(c *gin.Context) {
	if err := h.pool.Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("id")})
}

func (h *Handler) clearJob(c *gin.Context) {
	if !h.store.DeleteJob(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "job not found or not terminal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": c.Param("id")})
}

func (h *Handler) search(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no indexer configured"})
		return
	}
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	results, err := h.searcher.Search(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage service not configured"})
		return
	}

	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSource):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type TorrentResponse struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress"`
	TotalSize int64   `json:"total_size"`
	SavePath  string  `json:"save_path"`
	AddedAt   string  `json:"added_at"`
}

func torrentToResponse(t domain.Torrent) TorrentResponse {
	return TorrentResponse{
		ID:        t.ID,
		Source:    t.Source,
		Name:      t.Name,
		State:     string(t.State),
		Progress:  t.Progress,
		TotalSize: t.TotalSize,
		SavePath:  t.SavePath,
		AddedAt:   t.AddedAt.Format(time.RFC3339),
	}
}

type JobResponse struct {
	ID              string  `json:"id"`
	TorrentID       string  `json:"torrent_id"`
	SourcePath      string  `json:"source_path"`
	OutputPath      string  `json:"output_path"`
	InputExtension  string  `json:"input_extension"`
	OutputFormat    string  `json:"output_format"`
	Resolution      string  `json:"resolution"`
	State           string  `json:"state"`
	Progress        float64 `json:"progress"`
	ErrorDetail     string  `json:"error_detail,omitempty"`
	ArchiveLocation string  `json:"archive_location,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func jobToResponse(j domain.TranscodeJob) JobResponse {
	return JobResponse{
		ID:              j.ID,
		TorrentID:       j.TorrentID,
		SourcePath:      j.SourcePath,
		OutputPath:      j.OutputPath,
		InputExtension:  j.Rule.InputExtension,
		OutputFormat:    j.Rule.OutputFormat,
		Resolution:      j.Rule.Resolution,
		State:           string(j.State),
		Progress:        j.Progress,
		ErrorDetail:     j.ErrorDetail,
		ArchiveLocation: j.ArchiveLocation,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
	}
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
