package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

const idPattern = "{id:[a-fA-F0-9\\-]{36}}"

// RegisterRoutes вешает JSON API на /api/v1 за BearerAuth(token).
func RegisterRoutes(r *mux.Router, h *Handler, token string) {
	sub := r.PathPrefix("/api/v1").Subrouter()
	sub.Use(BearerAuth(token))

	sub.HandleFunc("/interfaces", h.ListInterfaces).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces", h.CreateInterface).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/import", h.ImportInterface).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/"+idPattern, h.GetInterface).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces/"+idPattern, h.DeleteInterface).Methods(http.MethodDelete)
	sub.HandleFunc("/interfaces/"+idPattern+"/config", h.InterfaceConfig).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces/"+idPattern+"/start", h.StartInterface).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/"+idPattern+"/stop", h.StopInterface).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/"+idPattern+"/clients", h.ListClients).Methods(http.MethodGet)
	sub.HandleFunc("/interfaces/"+idPattern+"/clients", h.CreateClient).Methods(http.MethodPost)
	sub.HandleFunc("/interfaces/"+idPattern+"/clients/export", h.ExportClients).Methods(http.MethodGet)

	sub.HandleFunc("/clients/import", h.ImportClient).Methods(http.MethodPost)
	sub.HandleFunc("/clients/"+idPattern, h.DeleteClient).Methods(http.MethodDelete)
	sub.HandleFunc("/clients/"+idPattern+"/config", h.ClientConfig).Methods(http.MethodGet)
	sub.HandleFunc("/clients/"+idPattern+"/handshake", h.LastHandshake).Methods(http.MethodGet)

	sub.HandleFunc("/traffic", h.Traffic).Methods(http.MethodGet)
	sub.HandleFunc("/traffic/collect", h.Collect).Methods(http.MethodPost)
	sub.HandleFunc("/plugins", h.Plugins).Methods(http.MethodGet)
}
