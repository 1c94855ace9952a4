package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gridwatch/vms/internal/middleware"
)

// RouterDeps carries everything the control surface serves.
type RouterDeps struct {
	Auth       *AuthHandler
	Cameras    *CameraHandler
	Recordings *RecordingHandler
	ANPR       *ANPRHandler
	System     *SystemHandler
	Media      *MediaHandler
	Hub        *WSHub

	JWT       *middleware.JWTAuth
	LoginRate *middleware.RateLimit

	// Metrics is mounted unauthenticated at /metrics when set.
	Metrics http.Handler
}

// NewRouter assembles the full HTTP surface. Everything under /api/v1
// (except registration and login) and /ws requires a valid access token;
// the JWT middleware also accepts ?token= for players and websockets.
func NewRouter(d RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	r.Get("/healthz", Healthz)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(d.LoginRate.Middleware).Post("/register", d.Auth.Register)
			r.With(d.LoginRate.Middleware).Post("/login", d.Auth.Login)
			r.Post("/refresh", d.Auth.Refresh)
			r.With(d.JWT.Middleware).Post("/logout", d.Auth.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(d.JWT.Middleware)

			r.Route("/cameras", func(r chi.Router) {
				r.Post("/", d.Cameras.Create)
				r.Get("/", d.Cameras.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", d.Cameras.Get)
					r.Put("/", d.Cameras.Update)
					r.Delete("/", d.Cameras.Delete)
					r.Post("/start", d.Cameras.Start)
					r.Post("/stop", d.Cameras.Stop)
					r.Post("/snapshot", d.Cameras.Snapshot)
					r.Post("/start-record", d.Cameras.StartRecording)
					r.Post("/stop-record", d.Cameras.StopRecording)
					r.Get("/hls-playlist.m3u8", d.Media.ServePlaylist)
					r.Get("/hls/{segment}", d.Media.ServeSegment)
					r.Get("/snapshots/{file}", d.Media.ServeSnapshot)
				})
			})

			r.Route("/recordings", func(r chi.Router) {
				r.Get("/", d.Recordings.List)
				r.Get("/{id}", d.Recordings.Get)
				r.Get("/{id}/download", d.Recordings.Download)
				r.Delete("/{id}", d.Recordings.Delete)
			})

			r.Route("/anpr", func(r chi.Router) {
				r.Post("/process", d.Cameras.ProcessANPR)
				r.Get("/events", d.ANPR.List)
				r.Get("/events/{id}", d.ANPR.Get)
			})

			r.Get("/system/stats", d.System.Stats)
		})
	})

	r.With(d.JWT.Middleware).Get("/ws", d.Hub.ServeWS)

	return r
}
