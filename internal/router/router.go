package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/push-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine         *gin.Engine
	tokenValidator middleware.TokenValidator
	messageH       Handler
	contactH       Handler
	trackH         Handler
	healthH        Handler
}

func NewRouter(
	tokenValidator middleware.TokenValidator,
	messageH Handler,
	contactH Handler,
	trackH Handler,
	healthH Handler,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:         gin.New(),
		tokenValidator: tokenValidator,
		messageH:       messageH,
		contactH:       contactH,
		trackH:         trackH,
		healthH:        healthH,
	}
}

func (r *Router) Setup() *gin.Engine {
	middleware.RegisterValidators()

	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	root := r.engine.Group("")
	r.healthH.RegisterRoutes(root)
	r.trackH.RegisterRoutes(root)

	api := r.engine.Group("/api/v1")
	api.Use(middleware.Auth(r.tokenValidator))
	{
		r.messageH.RegisterRoutes(api)
		r.contactH.RegisterRoutes(api)
	}

	return r.engine
}
