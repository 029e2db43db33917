package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omniguard-ai/omniguard/internal/handler/chat"
	"github.com/omniguard-ai/omniguard/internal/handler/stream"
	middlewarePkg "github.com/omniguard-ai/omniguard/internal/middleware"
	chatservice "github.com/omniguard-ai/omniguard/internal/service/conversation"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatservice.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc)
	streamHandler := stream.New(chatSvc)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
