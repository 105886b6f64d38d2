// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodtrack/internal/http/handlers"
	"foodtrack/internal/http/middleware"
	"foodtrack/internal/infra"
	"foodtrack/internal/modules/location"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/modules/tracking"
)

type ServerDeps struct {
	Order    *order.Service
	Location *location.Service
	Tracker  *tracking.Tracker
	Verifier infra.TokenVerifier
	Logger   *slog.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	logger := s.deps.Logger.With("component", "http")
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	orderHandler := handlers.NewOrderHandler(s.deps.Order)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/history", orderHandler.History)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	trackingHandler := handlers.NewTrackingHandler(s.deps.Order, s.deps.Tracker)
	api.GET("/orders/:id/tracking", trackingHandler.Get)
	api.GET("/orders/:id/tracking/ws", trackingHandler.Stream)

	chefHandler := handlers.NewChefHandler(s.deps.Order)
	chef := api.Group("/chef", middleware.RequireRole(string(order.RoleChef)))
	chef.GET("/orders", chefHandler.List)
	chef.POST("/orders/:id/advance", chefHandler.Advance)

	deliveryHandler := handlers.NewDeliveryHandler(s.deps.Order)
	locationHandler := handlers.NewLocationHandler(s.deps.Location)
	delivery := api.Group("/delivery", middleware.RequireRole(string(order.RoleDelivery)))
	delivery.GET("/orders", deliveryHandler.List)
	delivery.POST("/orders/:id/advance", deliveryHandler.Advance)
	delivery.POST("/orders/:id/payment", deliveryHandler.CollectPayment)
	delivery.PUT("/location", locationHandler.Update)

	paymentHandler := handlers.NewPaymentHandler(s.deps.Order)
	api.POST("/payments/confirm", middleware.RequireRole(string(order.RoleSystem)), paymentHandler.Confirm)

	return r
}
