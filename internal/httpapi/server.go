// Package httpapi is a thin HTTP front end over pkg/atlaskv. It exists
// purely to exercise the engine end to end in a demo binary; the wire
// protocol, connection handling, and bootstrap it stands in for are out
// of scope for the storage engine core itself (see spec section 6).
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/atlaskv/atlaskv/pkg/atlaskv"
)

// Server wraps a *atlaskv.DB with a JSON HTTP API.
type Server struct {
	db     *atlaskv.DB
	router *gin.Engine
	log    *logrus.Logger
}

// NewServer builds a Server around db. If log is nil,
// logrus.StandardLogger() is used.
func NewServer(db *atlaskv.DB, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{db: db, router: router, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.health)
		api.GET("/stats", s.stats)

		kv := api.Group("/kv")
		{
			kv.PUT("/:key", s.putKey)
			kv.GET("/:key", s.getKey)
			kv.DELETE("/:key", s.deleteKey)
		}
	}
}

// Router exposes the underlying gin.Engine for use with httptest or a
// real listener.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe starts serving on addr (e.g. ":8080").
func (s *Server) ListenAndServe(addr string) error {
	s.log.WithField("addr", addr).Info("atlaskv-server listening")
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "atlaskv-server"})
}

func (s *Server) stats(c *gin.Context) {
	s.ok(c, http.StatusOK, s.db.Stats())
}

func (s *Server) putKey(c *gin.Context) {
	key := c.Param("key")

	var req PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := s.db.Put([]byte(key), []byte(req.Value)); err != nil {
		s.failFromErr(c, "PUT_FAILED", err)
		return
	}

	s.ok(c, http.StatusOK, KVEntry{Key: key, Value: req.Value})
}

func (s *Server) getKey(c *gin.Context) {
	key := c.Param("key")

	value, found, err := s.db.Get([]byte(key))
	if err != nil {
		s.failFromErr(c, "GET_FAILED", err)
		return
	}
	if !found {
		s.fail(c, http.StatusNotFound, "KEY_NOT_FOUND", "key not found")
		return
	}

	s.ok(c, http.StatusOK, KVEntry{Key: key, Value: string(value)})
}

func (s *Server) deleteKey(c *gin.Context) {
	key := c.Param("key")

	if err := s.db.Delete([]byte(key)); err != nil {
		s.failFromErr(c, "DELETE_FAILED", err)
		return
	}

	s.ok(c, http.StatusOK, gin.H{"key": key, "deleted": true})
}

func (s *Server) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Status: "success", Data: data})
}

func (s *Server) fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{Status: "error", Error: &APIError{Code: code, Message: message}})
}

func (s *Server) failFromErr(c *gin.Context, code string, err error) {
	status := http.StatusInternalServerError
	if atlaskv.IsInvalidArgument(err) {
		status = http.StatusBadRequest
	}
	s.fail(c, status, code, err.Error())
}
