package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/api/chat", s.WebSocketHandler)
	mux.HandleFunc("/api/register", s.RegisterHandler)
	mux.HandleFunc("/api/current_user", s.CurrentUserHandler)
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
