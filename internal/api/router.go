package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sensechat/internal/api/middleware"
	"github.com/eldtechnologies/sensechat/internal/handlers"
	"github.com/eldtechnologies/sensechat/internal/store"
)

// maxBodyBytes covers a 1000 character text plus slots.
const maxBodyBytes = 16 * 1024

// Deps are the collaborators the router wires together.
type Deps struct {
	Logger      zerolog.Logger
	Handler     *handlers.Handler
	Users       store.DataStore
	Redis       *redis.Client // nil disables rate limiting
	Realtime    http.Handler
	CORSOrigins []string
	RateLimit   middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	logger := d.Logger

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(d.Redis, logger, d.RateLimit)
	r.Use(limiter.Middleware)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.UserHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := d.Handler
	auth := middleware.NewAuthMiddleware(d.Users, logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)
		r.Get("/users", h.Users)
		r.Get("/users/online", h.OnlineUsers)
		r.Get("/users/{id}", h.GetUser)

		// Identity on the realtime channel is established by user_register.
		if d.Realtime != nil {
			r.Handle("/ws", d.Realtime)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)

			r.Post("/embed", h.Embed)
			r.Post("/render", h.Render)
			r.Post("/deliver", h.Deliver)
			r.Get("/threads/{id}/messages", h.ThreadMessages)
			r.Get("/inbox", h.Inbox)
			r.Post("/inbox/{id}/read", h.MarkRead)
		})
	})

	return r
}
