package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var defaultCORSMethods = []string{"GET", "POST", "OPTIONS"}

// CORS returns a configured CORS middleware. The order form usually lives on a
// no-code builder's domain, so an empty origin list allows every origin.
func CORS(origins, methods, headers []string) gin.HandlerFunc {
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	cfg := cors.Config{
		AllowMethods:  methods,
		AllowHeaders:  append([]string{"Origin", "Content-Type", requestIDHeader}, headers...),
		ExposeHeaders: []string{requestIDHeader},
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
