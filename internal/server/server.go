package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/coah80/reelup/internal/config"
	"github.com/coah80/reelup/internal/middleware"
	"github.com/coah80/reelup/internal/routes"
	"github.com/coah80/reelup/internal/storage"
	"github.com/coah80/reelup/internal/transport"
)

// New wires the router. The rate limiter's sweeper runs until ctx ends.
func New(ctx context.Context, d *routes.Deps) *http.Server {
	return &http.Server{
		Addr:              ":" + d.Config.Server.Port,
		Handler:           Router(ctx, d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func Router(ctx context.Context, d *routes.Deps) http.Handler {
	limiter := middleware.NewLimiter(config.RateLimitWindow, config.RateLimitMax)
	limiter.StartCleanup(ctx, time.Minute)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.LoadCORS(d.Config.Server.CORSFile, d.Log))
	r.Use(limiter.Except(internalTraffic(d.Config.Server.Secret)))

	auth := middleware.BearerSecret(d.Config.Server.Secret)
	routes.CoreRoutes(r, d)
	routes.UploadRoutes(r, d, auth)
	routes.StorageRoutes(r, d, auth)
	return r
}

// internalTraffic matches the calls the upload pipeline makes back into this
// server and anything presenting the API secret. Those never count against the
// per-IP limit.
func internalTraffic(secret string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		p := r.URL.Path
		return strings.HasPrefix(p, transport.StoragePrefix) ||
			strings.HasPrefix(p, storage.PutPrefix) ||
			strings.HasPrefix(p, storage.MediaPrefix) ||
			middleware.HasBearer(r, secret)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │          reelup %s         │
  │      video upload pipeline       │
  └──────────────────────────────────┘
`, padVersion(config.Version))
}

func padVersion(v string) string {
	for len(v) < 10 {
		v += " "
	}
	return v
}
