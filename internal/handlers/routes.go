package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/geoclip/geoclip/internal/metrics"
	"github.com/geoclip/geoclip/internal/middleware"
	"github.com/geoclip/geoclip/internal/videos"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users     UserStore
	Tokens    TokenManager
	Videos    VideoStore
	Assets    AssetStore
	Events    EventPublisher
	Validator BodyValidator
	Limiter   RateLimiter
	Policy    videos.Policy
	Metrics   *metrics.Metrics
	NowFunc   func() time.Time
}

// NewRouter wires HTTP handlers into a gorilla/mux router.
func NewRouter(deps Dependencies) *mux.Router {
	health := HealthHandler{}
	authHandler := AuthHandler{
		Users:     deps.Users,
		Tokens:    deps.Tokens,
		Validator: deps.Validator,
		Limiter:   deps.Limiter,
		NowFunc:   deps.NowFunc,
	}
	videoHandler := VideoHandler{
		Videos:    deps.Videos,
		Assets:    deps.Assets,
		Events:    deps.Events,
		Validator: deps.Validator,
		Policy:    deps.Policy,
		Metrics:   deps.Metrics,
		NowFunc:   deps.NowFunc,
	}

	r := mux.NewRouter()
	r.Use(middleware.Instrument(deps.Metrics))

	r.HandleFunc("/healthz", health.Handle).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/", health.Root).Methods(http.MethodGet)
	api.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(RequireBearer(deps.Tokens))
	authed.HandleFunc("/me", authHandler.Me).Methods(http.MethodGet)
	authed.HandleFunc("/logout", authHandler.Logout).Methods(http.MethodPost)
	authed.HandleFunc("/videos", videoHandler.List).Methods(http.MethodGet)
	authed.HandleFunc("/videos/upload", videoHandler.Upload).Methods(http.MethodPost)
	authed.HandleFunc("/videos/{id}", videoHandler.Get).Methods(http.MethodGet)
	authed.HandleFunc("/videos/{id}", videoHandler.Delete).Methods(http.MethodDelete)

	return r
}
