/*
Package handlers holds the reusable pieces of the academy HTTP server.

# Middleware

	r := gin.New()
	r.Use(handlers.RequestID(log), handlers.Recovery(log), handlers.AccessLog(log))
	r.Use(handlers.NewRateLimiter(120).Middleware())

	v1 := r.Group("/v1", handlers.Identity(handlers.IdentityConfig{JWTSecret: secret}))

Identity accepts an HS256 bearer token whose subject is the user ID, or the
X-User-ID header when AllowHeaderIdentity is set. Handlers read the caller
with CallerID.

# Health Checks

	checker := handlers.NewCompositeHealthChecker("v1.0.0")
	checker.AddCheck("postgres", handlers.PingCheck(pool))
	checker.AddCheck("redis", handlers.PingCheck(cache))

	r.GET("/health", handlers.Health(checker))
	r.GET("/health/ready", handlers.Ready(checker))

Checks run in parallel with a per-check timeout.
*/
package handlers
