package http

// registerV1Routes sets up the v1 API structure.
// Groups: /api/v1/core, /api/v1/merged, /api/v1/agreement, /api/v1/runs
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())
	if s.cfg.BearerToken != "" {
		v1.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	// Core endpoints - placement and annotation metadata
	core := v1.Group("/core")
	{
		core.GET("/wear-events", s.handleV1WearEvents)
		core.GET("/people", s.handleV1People)
		core.GET("/devices", s.handleV1Devices)
		core.GET("/activities", s.handleV1Activities)
	}

	v1.GET("/merged/:person/:wrist", s.handleV1Merged)
	v1.GET("/agreement/:person/:wrist", s.handleV1Agreement)
	v1.GET("/runs/latest", s.handleV1LatestRun)
}
