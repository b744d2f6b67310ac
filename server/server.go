// Package server implements the HTTP transport (spec §6), route groups
// mirroring orchestration/api.go's APIServer shape: a thin gin.Engine
// wrapper over the core, one route per external operation, every
// response shaped as {"status": "success"|"error", "data"|"error": ...}.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/EchoCog/katocore/internal/config"
	"github.com/EchoCog/katocore/internal/katoerr"
	"github.com/EchoCog/katocore/internal/katolog"
	"github.com/EchoCog/katocore/internal/processor"
	"github.com/EchoCog/katocore/internal/session"
)

var log = katolog.For("server")

// Server wraps the processor in gin route groups.
type Server struct {
	proc   *processor.Processor
	router *gin.Engine
}

// New constructs a Server over the given processor.
func New(proc *processor.Processor) *Server {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	s := &Server{proc: proc, router: router}
	s.setupRoutes()
	return s
}

// Router exposes the underlying gin.Engine, e.g. for httptest.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server on the given port.
func (s *Server) Run(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"ready": true}})
	})

	kbs := s.router.Group("/api/kb")
	{
		kbs.POST("/:kb_id", s.createKB)
		kbs.DELETE("/:kb_id/memory", s.clearAllMemory)
	}

	sessions := s.router.Group("/api/sessions")
	{
		sessions.POST("/", s.createSession)
		sessions.GET("/", s.listSessions)
		sessions.GET("/:session_id", s.getSession)
		sessions.PUT("/:session_id/config", s.updateSessionConfig)
		sessions.DELETE("/:session_id", s.deleteSession)
		sessions.POST("/:session_id/observe", s.observe)
		sessions.POST("/:session_id/observe-sequence", s.observeSequence)
		sessions.GET("/:session_id/stm", s.getSTM)
		sessions.DELETE("/:session_id/stm", s.clearSTM)
		sessions.POST("/:session_id/learn", s.learn)
		sessions.GET("/:session_id/predictions", s.getPredictions)
	}
}

func ok(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{"status": "success", "data": data})
}

func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	var kerr *katoerr.Error
	if errors.As(err, &kerr) {
		switch kerr.Kind {
		case katoerr.SessionNotFound, katoerr.KbNotFound:
			code = http.StatusNotFound
		case katoerr.SessionBusy:
			code = http.StatusConflict
		case katoerr.InvalidVectorDim, katoerr.InvalidConfig:
			code = http.StatusBadRequest
		case katoerr.StorageUnavailable:
			code = http.StatusServiceUnavailable
		}
	}
	log.Error("request failed", "error", err)
	c.JSON(code, gin.H{"status": "error", "error": err.Error()})
}

func (s *Server) createKB(c *gin.Context) {
	if err := s.proc.CreateKB(c.Request.Context(), c.Param("kb_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"kb_id": c.Param("kb_id")})
}

func (s *Server) clearAllMemory(c *gin.Context) {
	if err := s.proc.ClearAllMemory(c.Request.Context(), c.Param("kb_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"kb_id": c.Param("kb_id")})
}

type createSessionRequest struct {
	KBID               string   `json:"kb_id"`
	MaxPatternLength   *int     `json:"max_pattern_length"`
	STMMode            *string  `json:"stm_mode"`
	Persistence        *int     `json:"persistence"`
	RecallThreshold    *float64 `json:"recall_threshold"`
	MaxPredictions     *int     `json:"max_predictions"`
	UseTokenMatching   *bool    `json:"use_token_matching"`
	ProcessPredictions *bool    `json:"process_predictions"`
	RankSortAlgo       *string  `json:"rank_sort_algo"`
	SessionTTL         int      `json:"session_ttl"`
	SessionAutoExtend  *bool    `json:"session_auto_extend"`
}

func (r createSessionRequest) overlay() config.Overlay {
	var mode *config.STMMode
	if r.STMMode != nil {
		m := config.STMMode(*r.STMMode)
		mode = &m
	}
	return config.Overlay{
		MaxPatternLength:   r.MaxPatternLength,
		STMMode:            mode,
		Persistence:        r.Persistence,
		RecallThreshold:    r.RecallThreshold,
		MaxPredictions:     r.MaxPredictions,
		UseTokenMatching:   r.UseTokenMatching,
		ProcessPredictions: r.ProcessPredictions,
		RankSortAlgo:       r.RankSortAlgo,
		SessionAutoExtend:  r.SessionAutoExtend,
	}
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if req.KBID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "kb_id is required"})
		return
	}
	st, err := s.proc.CreateSession(c.Request.Context(), req.KBID, req.overlay(), req.SessionTTL)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, sessionView(st))
}

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.proc.ListSessions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, list)
}

func (s *Server) getSession(c *gin.Context) {
	st, err := s.proc.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sessionView(st))
}

func (s *Server) updateSessionConfig(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	st, err := s.proc.UpdateSessionConfig(c.Request.Context(), c.Param("session_id"), req.overlay())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, sessionView(st))
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.proc.DeleteSession(c.Request.Context(), c.Param("session_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session_id": c.Param("session_id")})
}

type eventRequest struct {
	Strings  []string           `json:"strings"`
	Vectors  [][]float64        `json:"vectors"`
	Emotives map[string]float64 `json:"emotives"`
}

func (r eventRequest) raw() processor.RawEvent {
	return processor.RawEvent{Strings: r.Strings, Vectors: r.Vectors, Emotives: r.Emotives}
}

func (s *Server) observe(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	result, err := s.proc.Observe(c.Request.Context(), c.Param("session_id"), req.raw())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

type observeSequenceRequest struct {
	Events         []eventRequest `json:"events"`
	LearnAfterEach bool           `json:"learn_after_each"`
	LearnAtEnd     bool           `json:"learn_at_end"`
	ClearBetween   bool           `json:"clear_between"`
}

func (s *Server) observeSequence(c *gin.Context) {
	var req observeSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	events := make([]processor.RawEvent, len(req.Events))
	for i, e := range req.Events {
		events[i] = e.raw()
	}
	result, err := s.proc.ObserveSequence(c.Request.Context(), c.Param("session_id"), events, processor.ObserveSequenceOptions{
		LearnAfterEach: req.LearnAfterEach,
		LearnAtEnd:     req.LearnAtEnd,
		ClearBetween:   req.ClearBetween,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

func (s *Server) getSTM(c *gin.Context) {
	stm, err := s.proc.GetSTM(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, stm)
}

func (s *Server) clearSTM(c *gin.Context) {
	if err := s.proc.ClearSTM(c.Request.Context(), c.Param("session_id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"session_id": c.Param("session_id")})
}

func (s *Server) learn(c *gin.Context) {
	patternID, err := s.proc.Learn(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"pattern_id": patternID})
}

func (s *Server) getPredictions(c *gin.Context) {
	preds, err := s.proc.GetPredictions(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, preds)
}

func sessionView(st *session.State) gin.H {
	return gin.H{
		"session_id":  st.SessionID,
		"kb_id":       st.KBID,
		"config":      st.Config,
		"stm_length":  len(st.STM),
		"created_at":  st.CreatedAt,
		"last_access": st.LastAccess,
		"expires_at":  st.ExpiresAt,
	}
}
