package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/framewell/dbsvc/pkg/crud"
	"github.com/framewell/dbsvc/pkg/httputil"
	"github.com/framewell/dbsvc/pkg/metrics"
	"github.com/framewell/dbsvc/pkg/schema"
)

// batchPath is the reserved path segment for transactional multi-command
// requests. The leading $ keeps it out of the table namespace.
const batchPath = "$batch"

type Server struct {
	executor    *crud.Executor
	catalog     *schema.Catalog
	mux         *http.ServeMux
	middlewares []httputil.Middleware
	baseURL     string
	logger      *zap.Logger
	httpServer  *http.Server
}

func NewServer(executor *crud.Executor, catalog *schema.Catalog, baseURL string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		executor: executor,
		catalog:  catalog,
		mux:      http.NewServeMux(),
		baseURL:  baseURL,
		logger:   logger,
	}
	s.mux.HandleFunc("/", s.handleRequest)
	return s
}

// AddMiddleware appends middleware applied to every request.
func (s *Server) AddMiddleware(mw ...httputil.Middleware) {
	s.middlewares = append(s.middlewares, mw...)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, s.baseURL), "/")
	if path == "" {
		tables := make([]string, 0)
		for name := range s.catalog.Snapshot() {
			tables = append(tables, name)
		}
		httputil.JSON(w, http.StatusOK, map[string]any{"service": "dbsvc", "tables": tables})
		return
	}
	if strings.Contains(path, "/") {
		httputil.Error(w, http.StatusNotFound, "not_found", "expected a single table path segment")
		return
	}

	if path == batchPath {
		if r.Method != http.MethodPost {
			httputil.Error(w, http.StatusMethodNotAllowed, "method_not_allowed", "batch requests must be POSTed")
			return
		}
		s.handleBatch(w, r)
		return
	}

	op, err := operationOf(r.Method)
	if err != nil {
		httputil.Error(w, http.StatusMethodNotAllowed, "method_not_allowed", err.Error())
		return
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(rec, r, path, op)
	metrics.Requests.WithLabelValues(path, string(op), strconv.Itoa(rec.status)).Inc()
	metrics.RequestDuration.WithLabelValues(path, string(op)).Observe(time.Since(start).Seconds())
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, table string, op crud.Operation) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	spec, err := parseFilters(r, body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx := r.Context()
	switch op {
	case crud.OpRead:
		opts, err := parseReadOptions(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rows, err := s.executor.Read(ctx, table, spec, opts)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, rows)

	case crud.OpCreate:
		rows, err := body.rows()
		if err != nil {
			s.writeError(w, err)
			return
		}
		count, err := s.executor.Create(ctx, table, rows)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.JSON(w, http.StatusCreated, map[string]int64{"count": count})

	case crud.OpUpdate:
		values, err := body.row()
		if err != nil {
			s.writeError(w, err)
			return
		}
		count, err := s.executor.Update(ctx, table, spec, values)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]int64{"count": count})

	case crud.OpDelete:
		count, err := s.executor.Delete(ctx, table, spec)
		if err != nil {
			s.writeError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, map[string]int64{"count": count})
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httputil.BindOrError(r, w, &req); err != nil {
		return
	}

	cmds := make([]crud.Command, 0, len(req.Commands))
	for _, raw := range req.Commands {
		cmd, err := raw.toCommand()
		if err != nil {
			s.writeError(w, err)
			return
		}
		cmds = append(cmds, cmd)
	}

	results, err := s.executor.Batch(r.Context(), cmds)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"results": results})
}

// Handler returns the middleware-wrapped root handler, for tests and for
// mounting under another mux.
func (s *Server) Handler() http.Handler {
	return httputil.Chain(s.mux, s.middlewares...)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("server starting", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
