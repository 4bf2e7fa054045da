package rpc

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Handler is a named RPC's implementation: bytes in, bytes out. Handlers
// run on gin's worker goroutines — "distinct handler invocations may run
// in parallel" (spec.md §4.3).
type Handler func(payload []byte) ([]byte, error)

// Server binds named handlers and serves them over HTTP, one route per
// name, POST only.
type Server struct {
	engine *gin.Engine
	log    *logrus.Entry
}

// NewServer constructs a Server in gin's release-friendly default mode:
// this binary has no interactive console, so gin's debug-mode request
// logging would just be noise layered over our own logrus entries.
func NewServer(log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{engine: e, log: log}
}

// Bind registers handler under path "/"+name.
func (s *Server) Bind(name string, handler Handler) {
	s.engine.POST("/"+name, func(c *gin.Context) {
		txn := uuid.New().String()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.log.WithField("txn", txn).WithError(err).Warn("rpc: failed to read request body")
			c.String(http.StatusBadRequest, ReplyNotOK)
			return
		}

		reply, err := handler(body)
		if err != nil {
			s.log.WithFields(logrus.Fields{"txn": txn, "name": name}).WithError(err).Warn("rpc: handler returned an error")
			c.String(http.StatusInternalServerError, ReplyNotOK)
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", reply)
	})
}

// Listen serves forever (or until the process exits); spec.md §6 requires
// every node process to "run indefinitely".
func (s *Server) Listen(endpoint string) error {
	return s.engine.Run(endpoint)
}

// Engine exposes the underlying gin router so callers can register routes
// outside the named-RPC convention (e.g. a GET /debug endpoint). Not part
// of the coherence wire protocol itself.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
