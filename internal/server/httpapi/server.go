// Package httpapi exposes the sync API over HTTP: per-type entity resources
// with changed-since listing, and presigned photo blob uploads.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ivolkov/shelfsync/internal/logging"
	"github.com/ivolkov/shelfsync/internal/server/auth"
	"github.com/ivolkov/shelfsync/internal/server/repositories/entities"
)

// Presigner issues presigned upload slots for photo blobs.
type Presigner interface {
	PresignPut(ctx context.Context, blobID, mime string) (string, string, error)
}

// Server holds the handler dependencies.
type Server struct {
	repo   entities.Repository
	blobs  Presigner
	secret []byte
	logger logging.Logger
	now    func() time.Time
}

// NewServer returns a Server over the given repository and blob presigner.
func NewServer(repo entities.Repository, blobs Presigner, secret []byte, logger logging.Logger) *Server {
	return &Server{repo: repo, blobs: blobs, secret: secret, logger: logger, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

type contextKey string

const deviceIDKey contextKey = "deviceID"

// authMiddleware validates the bearer token and stores the device id in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		deviceID, err := auth.GetDeviceIDFromToken(token, s.secret)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/{resource}", s.list)
		r.Post("/{resource}", s.create)
		r.Put("/{resource}/{id}", s.update)
		r.Delete("/{resource}/{id}", s.remove)

		r.Post("/blobs/presign", s.presignBlob)
	})

	return r
}
