// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridewise/internal/http/handlers"
	"ridewise/internal/http/middleware"
	"ridewise/internal/infra"
	"ridewise/internal/maps"
	"ridewise/internal/modules/dispatch"
	"ridewise/internal/modules/history"
	"ridewise/internal/modules/lifecycle"
)

type RouterDeps struct {
	Verifier  infra.TokenVerifier
	Lifecycle *lifecycle.Service
	Dispatch  *dispatch.Service
	History   *history.Service
	// Places may be nil when no maps key is configured.
	Places *maps.PlacesService
	Logger *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.Logging(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	rideHandler := handlers.NewRideHandler(deps.Lifecycle, logger)
	rides := api.Group("/rides")
	rides.POST("", rideHandler.Request)
	rides.GET("/:id", rideHandler.Get)
	rides.GET("/:id/watch", rideHandler.Watch)
	rides.GET("/:id/otp", rideHandler.OTP)
	rides.POST("/:id/confirm", rideHandler.Confirm)
	rides.POST("/:id/cancel", rideHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(deps.Dispatch, deps.Lifecycle, logger)
	locationHandler := handlers.NewLocationHandler(deps.Dispatch)
	driver := api.Group("/driver", middleware.RequireRole(middleware.RoleDriver))
	driver.GET("/requests", driverHandler.ListOpen)
	driver.GET("/requests/watch", driverHandler.WatchOpen)
	driver.POST("/rides/:id/claim", driverHandler.Claim)
	driver.POST("/rides/:id/reject", driverHandler.Reject)
	driver.POST("/rides/:id/verify-otp", driverHandler.VerifyOTP)
	driver.POST("/rides/:id/dropoff", driverHandler.Dropoff)
	driver.PUT("/rides/:id/location", driverHandler.UpdateLocation)
	driver.GET("/rides/:id/target", driverHandler.Target)
	driver.GET("/availability", locationHandler.Get)
	driver.PUT("/availability", locationHandler.SetAvailability)
	driver.PUT("/position", locationHandler.UpdatePosition)

	adminHandler := handlers.NewAdminHandler(deps.Dispatch)
	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.POST("/rides/reset-rejected", adminHandler.ResetRejected)
	admin.GET("/rides/:id/notified", adminHandler.Notified)
	admin.PUT("/drivers/:id/verified", adminHandler.SetVerified)

	historyHandler := handlers.NewHistoryHandler(deps.History)
	api.GET("/history", historyHandler.List)
	api.GET("/history/stats", historyHandler.Stats)

	placesHandler := handlers.NewPlacesHandler(deps.Places)
	api.GET("/places/geocode", placesHandler.Geocode)
	api.GET("/places/reverse", placesHandler.Reverse)
	api.GET("/places/autocomplete", placesHandler.Autocomplete)

	return r
}
