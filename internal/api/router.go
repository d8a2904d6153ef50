package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the REST endpoints and the signaling upgrade path. ws may
// be nil when the signaling channel is disabled.
func NewRouter(a *API, ws http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.HealthHandler).Methods("GET")

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/pairing", a.CreatePairingHandler).Methods("POST")
	s.HandleFunc("/batch-analyze", a.BatchAnalyzeHandler).Methods("POST")
	s.HandleFunc("/upload-image", a.UploadImageHandler).Methods("POST")
	s.HandleFunc("/latest-image", a.LatestImageHandler).Methods("GET")
	s.HandleFunc("/chat", a.ChatHandler).Methods("POST")
	s.HandleFunc("/health", a.HealthHandler).Methods("GET")

	if ws != nil {
		r.HandleFunc("/ws", ws).Methods("GET")
	}

	return r
}
