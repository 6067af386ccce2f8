package server

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"eventscout/internal/store"
	"eventscout/pkg/auth"
	"eventscout/pkg/errors"
	"eventscout/pkg/instagram"
	"eventscout/pkg/models"
	"eventscout/pkg/monitor"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, errorResponse{Error: err.Error()})
}

// sweepStatusCode maps a sweep failure to an HTTP status
func sweepStatusCode(err error) int {
	switch {
	case stderrors.Is(err, monitor.ErrSweepInProgress):
		return http.StatusConflict
	case errors.IsRateLimited(err):
		return http.StatusTooManyRequests
	case errors.IsRemoteTimeout(err):
		return http.StatusGatewayTimeout
	case errors.IsRemoteIntegration(err):
		return http.StatusBadGateway
	case errors.IsConfiguration(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// --- monitor control ---

type statusResponse struct {
	monitor.StatusSnapshot
	MonitoringEnabled  bool   `json:"monitoring_enabled"`
	FetchMode          string `json:"fetch_mode"`
	ClassificationMode string `json:"classification_mode"`
	SessionUsername    string `json:"session_username"`
}

func (s *Server) handleStatus(c *gin.Context) {
	settings, err := s.db.LoadSettings(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		StatusSnapshot:     s.sweeper.Status(),
		MonitoringEnabled:  settings.MonitoringEnabled,
		FetchMode:          settings.FetchMode,
		ClassificationMode: settings.ClassificationMode,
		SessionUsername:    settings.SessionUsername,
	})
}

type sweepRequest struct {
	PostCount int `json:"post_count"`
}

func (s *Server) handleSweep(c *gin.Context) {
	var req sweepRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
	}

	stats, err := s.sweeper.SweepLatest(c.Request.Context(), monitor.SweepManual, req.PostCount)
	if err != nil {
		respondError(c, sweepStatusCode(err), err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) setMonitoring(c *gin.Context, enabled bool) {
	ctx := c.Request.Context()
	settings, err := s.db.LoadSettings(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	settings.MonitoringEnabled = enabled
	if err := s.db.SaveSettings(ctx, settings); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"monitoring_enabled": enabled})
}

func (s *Server) handleMonitorStart(c *gin.Context) {
	s.setMonitoring(c, true)
}

func (s *Server) handleMonitorStop(c *gin.Context) {
	s.setMonitoring(c, false)
}

// --- accounts ---

type createAccountRequest struct {
	Username           string `json:"username" binding:"required"`
	Name               string `json:"name"`
	ClassificationMode string `json:"classification_mode"`
}

func (s *Server) handleCreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")

	account, err := s.db.CreateAccount(c.Request.Context(), username, req.Name, req.ClassificationMode)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (s *Server) handleListAccounts(c *gin.Context) {
	accounts, err := s.db.ListAccounts(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

type updateAccountRequest struct {
	Name               *string `json:"name"`
	Active             *bool   `json:"active"`
	ClassificationMode *string `json:"classification_mode"`
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	account, err := s.db.UpdateAccount(c.Request.Context(), id, req.Name, req.Active, req.ClassificationMode)
	if err != nil {
		respondError(c, storeStatusCode(err), err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.db.DeleteAccount(c.Request.Context(), id); err != nil {
		respondError(c, storeStatusCode(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- posts ---

func (s *Server) handleListPosts(c *gin.Context) {
	filter := store.PostFilter{}
	if v := c.Query("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		filter.AccountID = &id
	}
	if v := c.Query("is_event_poster"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		filter.IsEventPoster = &b
	}
	if v := c.Query("processed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		filter.Processed = &b
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	posts, err := s.db.ListPosts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (s *Server) handleGetPost(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	post, err := s.db.GetPost(c.Request.Context(), id)
	if err != nil {
		respondError(c, storeStatusCode(err), err)
		return
	}
	c.JSON(http.StatusOK, post)
}

type classifyRequest struct {
	IsEventPoster *bool    `json:"is_event_poster" binding:"required"`
	Confidence    *float64 `json:"confidence"`
}

func (s *Server) handleClassifyPost(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	post, err := s.db.ClassifyPost(c.Request.Context(), id, *req.IsEventPoster, req.Confidence)
	if err != nil {
		respondError(c, storeStatusCode(err), err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// --- settings ---

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.db.LoadSettings(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type updateSettingsRequest struct {
	MonitoringEnabled   *bool   `json:"monitoring_enabled"`
	MonitorIntervalMins *int    `json:"monitor_interval_minutes"`
	ClassificationMode  *string `json:"classification_mode"`
	AccountDelaySeconds *int    `json:"account_delay_seconds"`
	FetchMode           *string `json:"fetch_mode"`
	RemoteEnabled       *bool   `json:"remote_enabled"`
	RemoteResultsLimit  *int    `json:"remote_results_limit"`
	RemoteAPIToken      *string `json:"remote_api_token"`
	RemoteActorID       *string `json:"remote_actor_id"`
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if req.FetchMode != nil {
		switch models.FetchMode(*req.FetchMode) {
		case models.FetchModeDirect, models.FetchModeRemote, models.FetchModeAuto:
		default:
			respondError(c, http.StatusBadRequest, errors.Newf(errors.KindConfiguration, "invalid fetch mode %q", *req.FetchMode))
			return
		}
	}
	if req.ClassificationMode != nil {
		switch *req.ClassificationMode {
		case models.ClassificationManual, models.ClassificationAuto:
		default:
			respondError(c, http.StatusBadRequest, errors.Newf(errors.KindConfiguration, "invalid classification mode %q", *req.ClassificationMode))
			return
		}
	}

	ctx := c.Request.Context()
	settings, err := s.db.LoadSettings(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	if req.MonitoringEnabled != nil {
		settings.MonitoringEnabled = *req.MonitoringEnabled
	}
	if req.MonitorIntervalMins != nil {
		settings.MonitorIntervalMins = *req.MonitorIntervalMins
	}
	if req.ClassificationMode != nil {
		settings.ClassificationMode = *req.ClassificationMode
	}
	if req.AccountDelaySeconds != nil {
		settings.AccountDelaySeconds = *req.AccountDelaySeconds
	}
	if req.FetchMode != nil {
		settings.FetchMode = *req.FetchMode
	}
	if req.RemoteEnabled != nil {
		settings.RemoteEnabled = *req.RemoteEnabled
	}
	if req.RemoteResultsLimit != nil {
		settings.RemoteResultsLimit = *req.RemoteResultsLimit
	}
	if req.RemoteAPIToken != nil {
		settings.RemoteAPIToken = *req.RemoteAPIToken
	}
	if req.RemoteActorID != nil {
		settings.RemoteActorID = *req.RemoteActorID
	}

	if err := s.db.SaveSettings(ctx, settings); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// --- session ---

type sessionRequest struct {
	Username  string `json:"username"`
	Cookies   string `json:"cookies" binding:"required"`
	UserAgent string `json:"user_agent"`
}

func (s *Server) handleUploadSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	cookies := auth.ParseCookieInput(req.Cookies)
	username := req.Username
	if username == "" {
		username = "default"
	}
	session, err := auth.NewSessionFromCookies(username, cookies)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if req.UserAgent != "" {
		session.UserAgent = req.UserAgent
	}

	if err := s.sessions.Store(session); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	ctx := c.Request.Context()
	settings, err := s.db.LoadSettings(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	settings.SessionUsername = session.Username
	if err := s.db.SaveSettings(ctx, settings); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	s.sweeper.SetDirectSource(s.directAdapterFor(session))

	c.JSON(http.StatusCreated, gin.H{"username": session.Username, "session": session.Masked()})
}

// directAdapterFor builds a direct source from the uploaded session so the
// running orchestrator can use it without a restart
func (s *Server) directAdapterFor(session *auth.Session) monitor.SourceAdapter {
	igCfg := s.cfg.Instagram
	igCfg.SessionID = session.SessionID
	igCfg.CSRFToken = session.CSRFToken
	igCfg.DSUserID = session.DSUserID
	if session.UserAgent != "" {
		igCfg.UserAgent = session.UserAgent
	}
	client := instagram.NewClient(&igCfg, s.logger)
	return monitor.NewDirectAdapter(client, s.cfg.Fetch.KnownBreakThreshold, s.logger)
}

func (s *Server) handleRemoveSession(c *gin.Context) {
	ctx := c.Request.Context()
	settings, err := s.db.LoadSettings(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	username := settings.SessionUsername
	if username == "" {
		username = "default"
	}

	if err := s.sessions.Delete(username); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	settings.SessionUsername = ""
	if err := s.db.SaveSettings(ctx, settings); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	s.sweeper.SetDirectSource(nil)

	c.Status(http.StatusNoContent)
}

// --- helpers ---

func pathID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}

func storeStatusCode(err error) int {
	if stderrors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
