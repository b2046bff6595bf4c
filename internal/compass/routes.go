package compass

import (
	"github.com/gorilla/mux"

	"github.com/imadgeboyega/kiekky-compass/internal/auth"
)

func RegisterRoutes(router *mux.Router, handler *Handler, hub *Hub, authMiddleware *auth.Middleware) {
	api := router.PathPrefix("/api/v1/compass").Subrouter()
	api.Use(authMiddleware.Authenticate)

	// Discovery
	api.HandleFunc("/discover", handler.Discover).Methods("GET")
	api.HandleFunc("/seen", handler.RecordShown).Methods("POST")

	// Swipes and tokens
	api.HandleFunc("/swipes", handler.LogSwipe).Methods("POST")
	api.HandleFunc("/tokens", handler.GetTokens).Methods("GET")

	// Lifecycle
	api.HandleFunc("/onboarding/complete", handler.CompleteOnboarding).Methods("POST")

	// Realtime
	if hub != nil {
		api.HandleFunc("/ws", hub.ServeWS).Methods("GET")
	}
}
