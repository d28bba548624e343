// Package api exposes the HTTP surface: approval links for phone taps,
// a small JSON API for the review queue, and the OAuth dance.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/database"
	"github.com/seanmckay/hearth/internal/discovery"
	"github.com/seanmckay/hearth/internal/engine"
	"github.com/seanmckay/hearth/internal/events"
	"github.com/seanmckay/hearth/internal/exceptions"
	"github.com/seanmckay/hearth/internal/google"
	"github.com/seanmckay/hearth/internal/util"
)

// Server wires the HTTP handlers to the underlying services.
type Server struct {
	cfg        *config.Config
	engine     *engine.Engine
	events     *events.Repository
	discovery  *discovery.Repository
	exceptions *exceptions.Repository
	audit      *engine.AuditLogger
	oauth      *google.OAuthManager
}

func New(cfg *config.Config, eng *engine.Engine, eventsRepo *events.Repository, discoveryRepo *discovery.Repository, exceptionsRepo *exceptions.Repository, audit *engine.AuditLogger, oauth *google.OAuthManager) *Server {
	return &Server{
		cfg:        cfg,
		engine:     eng,
		events:     eventsRepo,
		discovery:  discoveryRepo,
		exceptions: exceptionsRepo,
		audit:      audit,
		oauth:      oauth,
	}
}

// Router builds the gin engine. Split out from Run so tests can drive
// handlers through httptest without binding a port.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)

	// Tap targets for the notification buttons. These must answer with
	// human-readable text, not JSON.
	r.GET("/approve/:token", s.handleApproveLink)
	r.GET("/reject/:token", s.handleRejectLink)

	r.GET("/oauth/start", s.handleOAuthStart)
	r.GET("/oauth/callback", s.handleOAuthCallback)

	api := r.Group("/api")
	{
		api.POST("/approvals/:token/approve", s.handleApprove)
		api.POST("/approvals/:token/reject", s.handleReject)
		api.GET("/operations/pending", s.handlePendingOperations)
		api.GET("/events", s.handleListEvents)
		api.GET("/sessions/:id", s.handleGetSession)
		api.GET("/queue", s.handleListQueue)
		api.POST("/queue/:id/status", s.handleQueueStatus)
		api.GET("/exceptions", s.handleListExceptions)
		api.POST("/exceptions/:id/resolve", s.handleResolveException)
		api.GET("/audit", s.handleAudit)
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Approval links answer 200 with plain text in every outcome the
// approver can cause themselves (reused link, expired link). Only a
// link that was never issued is a 404.
func (s *Server) handleApproveLink(c *gin.Context) {
	res := s.engine.ApproveAndExecute(c.Request.Context(), c.Param("token"))
	c.String(linkStatus(res), res.Message)
}

func (s *Server) handleRejectLink(c *gin.Context) {
	res := s.engine.Reject(c.Request.Context(), c.Param("token"), c.Query("reason"))
	c.String(linkStatus(res), res.Message)
}

func linkStatus(res engine.Result) int {
	if res.Success {
		return http.StatusOK
	}
	if res.Message == "this approval link is not recognized" {
		return http.StatusNotFound
	}
	return http.StatusOK
}

func (s *Server) handleApprove(c *gin.Context) {
	res := s.engine.ApproveAndExecute(c.Request.Context(), c.Param("token"))
	c.JSON(apiStatus(res), gin.H{"success": res.Success, "message": res.Message})
}

func (s *Server) handleReject(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = c.Query("reason")
	}
	res := s.engine.Reject(c.Request.Context(), c.Param("token"), body.Reason)
	c.JSON(apiStatus(res), gin.H{"success": res.Success, "message": res.Message})
}

func apiStatus(res engine.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Message {
	case "this approval link is not recognized":
		return http.StatusNotFound
	case "this approval link has already been used", "this approval link has expired":
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handlePendingOperations(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	ops, err := s.events.ListPendingOperations(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

func (s *Server) handleListEvents(c *gin.Context) {
	status := c.DefaultQuery("status", database.EventCreated)
	limit := intQuery(c, "limit", 50)
	evs, err := s.events.ListByStatus(status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.discovery.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	evidence, err := s.discovery.ListEvidence(session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "evidence": evidence})
}

func (s *Server) handleListQueue(c *gin.Context) {
	status := c.DefaultQuery("status", database.QueueItemPending)
	limit := intQuery(c, "limit", 50)
	items, err := s.discovery.ListQueueItems(status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	switch body.Status {
	case database.QueueItemApproved, database.QueueItemDismissed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be approved or dismissed"})
		return
	}
	if err := s.discovery.SetQueueItemStatus(c.Param("id"), body.Status); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleListExceptions(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	excs, err := s.exceptions.ListUnresolved(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exceptions": excs})
}

func (s *Server) handleResolveException(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exception id"})
		return
	}
	if err := s.exceptions.Resolve(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleAudit(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	entries, err := s.audit.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleOAuthStart(c *gin.Context) {
	if !s.oauth.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "google oauth is not configured"})
		return
	}
	url, err := s.oauth.AuthURL()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.String(http.StatusBadRequest, "missing state or code")
		return
	}
	if err := s.oauth.ExchangeCode(c.Request.Context(), state, code); err != nil {
		util.Error("oauth exchange failed", "error", err)
		c.String(http.StatusBadRequest, "authorization failed: %v", err)
		return
	}
	c.String(http.StatusOK, "Google Calendar connected. You can close this tab.")
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
