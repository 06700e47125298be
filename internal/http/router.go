// README: HTTP router registration for the local control API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"orbix/internal/http/handlers"
	"orbix/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(deps.Logger), middleware.Recovery(deps.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connection": deps.Rides.ConnectionStatus()})
	})

	v1 := r.Group("/v1", middleware.Auth(deps.Token))

	rides := handlers.NewRideHandler(deps.Rides)
	v1.GET("/ride", rides.Get)
	v1.GET("/offers", rides.Offers)
	v1.GET("/notices", rides.Notices)
	v1.POST("/ride/request", rides.Request)
	v1.POST("/ride/quote", rides.Quote)
	v1.POST("/offers/:id/accept", rides.AcceptOffer)
	v1.POST("/ride/otp", rides.SubmitOTP)
	v1.POST("/ride/waiting/start", rides.StartWaiting)
	v1.POST("/ride/waiting/end", rides.EndWaiting)
	v1.POST("/ride/end", rides.End)
	v1.POST("/ride/fare", rides.FinalizeFare)
	v1.POST("/ride/pay", rides.Pay)
	v1.POST("/ride/cancel", rides.Cancel)
	v1.POST("/ride/rating", rides.Rate)
	v1.POST("/ride/dismiss", rides.Dismiss)
	v1.POST("/ride/detach", rides.Detach)
	v1.POST("/ride/resume", rides.Resume)
	v1.POST("/logout", rides.Logout)

	places := handlers.NewPlacesHandler(deps.Places)
	v1.GET("/places", places.Suggest)

	return r
}
