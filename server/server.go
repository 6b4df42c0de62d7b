package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/quizpack/internal/types"
	"github.com/xhad/quizpack/pkg/document"
	"github.com/xhad/quizpack/pkg/metrics"
	"github.com/xhad/quizpack/pkg/orchestrator"
	"github.com/xhad/quizpack/pkg/roster"
)

//go:embed index.html
var indexHTML []byte

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type Config struct {
	Addr           string
	MaxUploadBytes int64
	Layout         roster.Layout
	NewGenerator   orchestrator.GeneratorFactory
	Builder        types.PromptBuilder
	WorkDir        string
	Lang           string
	Title          string
	AllowUnsafe    bool
	ArchiveName    string
	Ledger         types.Ledger     // optional
	Metrics        *metrics.Metrics // optional
	Logger         *zap.Logger      // optional

	CredentialOptional bool
}

type session struct {
	run     *orchestrator.Run
	dir     string
	started bool
}

type Server struct {
	config   Config
	log      *zap.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

func New(config Config) (*Server, error) {
	if config.NewGenerator == nil || config.Builder == nil {
		return nil, errors.New("server: generator factory and prompt builder are required")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 10 << 20
	}
	if config.WorkDir == "" {
		config.WorkDir = filepath.Join(os.TempDir(), "quizpack")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	s := &Server{
		config: config,
		log:    config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[string]*session),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.config.Addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), zapLogger(s.log))
	r.MaxMultipartMemory = s.config.MaxUploadBytes

	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if s.config.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.config.Metrics.Handler()))
	}

	api := r.Group("/api/runs")
	api.POST("", s.createRun)
	api.GET("/:id", s.getRun)
	api.GET("/:id/ws", s.streamRun)
	api.GET("/:id/archive", s.downloadArchive)

	return r
}

func (s *Server) createRun(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	token := c.PostForm("token")
	temperature, err := strconv.ParseFloat(c.DefaultPostForm("temperature", "0.5"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temperature must be a number"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a roster workbook is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	rs, err := roster.Read(f, s.config.Layout)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New()
	dir := filepath.Join(s.config.WorkDir, id.String())
	writer, err := document.NewWriter(document.WriterConfig{
		OutputDir:       dir,
		Lang:            s.config.Lang,
		Title:           s.config.Title,
		AllowUnsafeHTML: s.config.AllowUnsafe,
	})
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not prepare work directory"})
		return
	}

	opts := orchestrator.Options{
		ID:           id,
		NewGenerator: s.config.NewGenerator,
		Builder:      s.config.Builder,
		Writer:       writer,
		Ledger:       s.config.Ledger,
		Logger:       s.log,
		ArchiveName:  s.config.ArchiveName,

		CredentialOptional: s.config.CredentialOptional,
	}
	if s.config.Metrics != nil {
		opts.Recorder = s.config.Metrics
	}

	run, err := orchestrator.New(opts)
	if err != nil {
		os.Remove(dir)
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := run.Configure(token, temperature, rs); err != nil {
		os.Remove(dir)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.sessions[run.ID()] = &session{run: run, dir: dir}
	s.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{
		"id":       run.ID(),
		"state":    run.State().String(),
		"students": len(rs.Students),
		"subject":  rs.Config.Subject,
		"topic":    rs.Config.Topic,
	})
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) getRun(c *gin.Context) {
	sess, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	run := sess.run
	body := gin.H{
		"id":       run.ID(),
		"state":    run.State().String(),
		"students": run.Total(),
		"written":  len(run.Files()),
	}
	if err := run.Err(); err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// streamRun starts the run and reports progress over a websocket until it ends.
func (s *Server) streamRun(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	alreadyStarted := ok && sess.started
	if ok {
		sess.started = true
	}
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if alreadyStarted {
		c.JSON(http.StatusConflict, gin.H{"error": "run already started"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		s.mu.Lock()
		sess.started = false
		s.mu.Unlock()
		return
	}
	defer conn.Close()

	run := sess.run
	s.sendMessage(conn, "status", fmt.Sprintf("generating questions for %d students", run.Total()), nil)

	archive, err := run.Start(context.Background(), func(p orchestrator.Progress) {
		s.sendMessage(conn, "progress", p.Student, gin.H{
			"done":     p.Done,
			"total":    p.Total,
			"fraction": p.Fraction,
		})
	})
	if err != nil {
		s.sendMessage(conn, "error", err.Error(), nil)
		return
	}

	s.sendMessage(conn, "done", archive.Name, gin.H{
		"entries":  archive.Entries,
		"download": fmt.Sprintf("/api/runs/%s/archive", id),
	})
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType, content string, data interface{}) {
	msg := Message{
		Type:    msgType,
		Content: content,
		Data:    data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Debug("error sending message", zap.Error(err))
	}
}

// downloadArchive serves the zip once, then deletes the run's pages and forgets the run.
func (s *Server) downloadArchive(c *gin.Context) {
	id := c.Param("id")

	// Claim the session so only one request delivers it.
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	run := sess.run
	archive := run.Archive()
	if archive == nil || run.State() != orchestrator.Completed {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "archive not ready", "state": run.State().String()})
		return
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.Name))
	c.Data(http.StatusOK, "application/zip", archive.Data)

	if err := run.Deliver(); err != nil {
		c.Error(err)
	}
	os.Remove(sess.dir)
}
