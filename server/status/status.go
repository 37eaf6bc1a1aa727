// Package status serves a small read-only HTTP API for watching a training run
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cyclopcam/detrain/server/summary"
	"github.com/cyclopcam/detrain/server/train"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

const defaultScalarLimit = 1000

// StatusSource is implemented by train.Trainer
type StatusSource interface {
	Status() train.Status
}

type Server struct {
	log        logs.Log
	source     StatusSource
	summary    *summary.Store // May be nil
	httpServer *http.Server
}

func NewServer(log logs.Log, addr string, source StatusSource, store *summary.Store) *Server {
	s := &Server{
		log:     log,
		source:  source,
		summary: store,
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the router with all API routes
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	ratelimited("GET", "/api/status", s.httpStatus, 10, time.Second)
	ratelimited("GET", "/api/tags", s.httpTags, 10, time.Second)
	ratelimited("GET", "/api/scalars/*tag", s.httpScalars, 10, time.Second)
	return router
}

// ListenAndServe blocks until Shutdown is called.
// If Shutdown has already been called, it returns immediately.
func (s *Server) ListenAndServe() error {
	s.log.Infof("Listening on %v", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown may be called from any goroutine, before or after ListenAndServe
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.source.Status())
}

func (s *Server) httpTags(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.summary == nil {
		www.SendJSON(w, []string{})
		return
	}
	tags, err := s.summary.Tags()
	www.Check(err)
	www.SendJSON(w, tags)
}

// Tags contain slashes, eg /api/scalars/train/total_loss
func (s *Server) httpScalars(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.summary == nil {
		www.PanicBadRequestf("No summary store")
	}
	tag := params.ByName("tag")
	if len(tag) > 0 && tag[0] == '/' {
		tag = tag[1:]
	}
	if tag == "" {
		www.PanicBadRequestf("No tag specified")
	}
	limit := www.QueryInt(r, "limit")
	if limit <= 0 {
		limit = defaultScalarLimit
	}
	values, err := s.summary.Scalars(tag, limit)
	www.Check(err)
	www.SendJSON(w, values)
}
