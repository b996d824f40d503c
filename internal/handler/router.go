package handler

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/talkbox/backend/internal/handler/chat"
	"github.com/zhouzirui/talkbox/backend/internal/handler/profile"
	"github.com/zhouzirui/talkbox/backend/internal/handler/stream"
	"github.com/zhouzirui/talkbox/backend/internal/handler/ws"
	profileModel "github.com/zhouzirui/talkbox/backend/internal/model/profile"
	chatService "github.com/zhouzirui/talkbox/backend/internal/service/chat"
	"github.com/zhouzirui/talkbox/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(profiles profileModel.Store, chatSvc *chatService.Service, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		profile.New(profiles).RegisterRoutes(api)
		chat.New(chatSvc).RegisterRoutes(api)
		stream.New(chatSvc).RegisterRoutes(api)
		ws.New(chatSvc, originChecker(allowedOrigins)).RegisterRoutes(api)
	})

	return r
}

func originChecker(allowed []string) func(string) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(origin string) bool {
		return slices.Contains(allowed, origin)
	}
}
