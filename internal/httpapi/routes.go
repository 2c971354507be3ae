package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/hub"
	"github.com/DoyleJ11/beat-escape-backend/internal/ws"
)

type Options struct {
	Rooms  *hub.Service
	Work   WorkStore
	Logger *zap.Logger
	// AllowedOrigins are websocket origin patterns, e.g. "localhost:*".
	AllowedOrigins []string
}

func SetupRoutes(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handlers{
		rooms:    opts.Rooms,
		work:     opts.Work,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", h.createRoom)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.getRoom)
			r.Patch("/locks/{lock}", h.patchLock)
			r.Patch("/active", h.patchActive)
			r.Patch("/ready", h.patchReady)
			r.Post("/slots", h.claimSlot)
		})
	})

	r.Route("/work/{activityID}", func(r chi.Router) {
		r.Put("/", h.putWork)
		r.Get("/", h.getWork)
	})

	r.Get("/ws", ws.Handler(opts.Rooms, ws.Options{Logger: log, OriginPatterns: opts.AllowedOrigins}))
	return r
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("requestId", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
