package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gwi.com/calendar-assistant/internal/logger"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(apiHandler.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/calendar/callback", apiHandler.CalendarCallbackHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/chat", apiHandler.PostMessageHandler)
			r.Post("/chats", apiHandler.CreateChatHandler)
			r.Get("/chats", apiHandler.ListChatsHandler)
			r.Get("/chats/{chatID}", apiHandler.GetChatDetailsHandler)
			r.Patch("/chats/{chatID}", apiHandler.RenameChatHandler)
			r.Put("/chats/{chatID}/rules", apiHandler.UpdateRulesHandler)
			r.Get("/chats/{chatID}/messages", apiHandler.ListMessagesHandler)
			r.Post("/chats/{chatID}/messages/add", apiHandler.AddMessageHandler)

			r.Route("/calendar", func(r chi.Router) {
				r.Get("/auth", apiHandler.CalendarAuthHandler)
				r.Get("/status", apiHandler.CalendarStatusHandler)
				r.Get("/events", apiHandler.ListEventsHandler)
				r.Post("/events", apiHandler.CreateEventHandler)
				r.Delete("/connection", apiHandler.CalendarDisconnectHandler)
			})
		})
	})

	return r
}

// RequestLogger logs one line per request through zap.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
