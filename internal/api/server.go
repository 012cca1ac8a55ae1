package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/franz/edition-janitor/internal/metrics"
	"github.com/franz/edition-janitor/internal/service"
	"github.com/franz/edition-janitor/internal/session"
	"github.com/franz/edition-janitor/internal/util"
)

// Server is the HTTP boundary over the service operations
type Server struct {
	svc          *service.Service
	scanDefaults session.Config
	router       chi.Router
}

// Config holds server configuration
type Config struct {
	Service *service.Service

	// ScanDefaults carries the collaborators and tuning a scan request
	// does not set itself
	ScanDefaults   *session.Config
	AllowedOrigins []string
}

// New builds the router
func New(cfg *Config) *Server {
	s := &Server{svc: cfg.Service}
	if cfg.ScanDefaults != nil {
		s.scanDefaults = *cfg.ScanDefaults
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	metrics.Register()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.listGroups)
			r.Route("/{group_key}", func(r chi.Router) {
				r.Get("/", s.getGroup)
				r.Post("/dedupe", s.dedupeGroup)
				r.Post("/dry-run", s.dryRun)
				r.Post("/choose", s.chooseEdition)
				r.Post("/merge", s.moveBonusTrack)
			})
		})
		r.Post("/dedupe-all", s.dedupeAll)

		r.Route("/scan", func(r chi.Router) {
			r.Post("/", s.startScan)
			r.Get("/progress", s.scanProgress)
			r.Post("/pause", s.pauseScan)
			r.Post("/resume", s.resumeScan)
			r.Post("/stop", s.stopScan)
		})

		r.Route("/scans", func(r chi.Router) {
			r.Get("/", s.scanHistory)
			r.Route("/{scan_id}", func(r chi.Router) {
				r.Get("/", s.getScanRun)
				r.Get("/moves", s.scanMoves)
				r.Post("/restore", s.restoreMoves)
				r.Get("/summary", s.summary)
				r.Get("/incomplete", s.incompleteAlbums)
				r.Post("/incomplete/move", s.moveIncomplete)
				r.Get("/incomplete/export", s.exportIncomplete)
			})
		})

		r.Post("/recover", s.recoverMoves)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		util.DebugLog("%s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

// decode reads an optional JSON body. An empty body leaves dst untouched.
func decode(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// scanIDParam maps "latest" to the empty id the service resolves
func scanIDParam(r *http.Request) string {
	id := chi.URLParam(r, "scan_id")
	if id == "latest" {
		return ""
	}
	return id
}
