package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/metrics", s.metricsEndpoint)

	v1 := s.echo.Group("/v1")
	v1.POST("/admission/evaluate", s.evaluateAdmissionHandler)
	v1.POST("/admission/record", s.recordSuccessHandler)
	v1.POST("/admission/suspicious", s.reportSuspiciousHandler)
	v1.GET("/quota/:identity", s.quotaHandler)

	// Reporting is itself gated, keyed by the caller's network address.
	reports := v1.Group("/reports", s.middleware.Admission.Handler())
	reports.GET("/windows", s.listWindowsHandler)
}
