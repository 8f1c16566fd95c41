package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"wgate/internal/models"
)

type ctxKey string

const requestIDKey ctxKey = "reqid"

// HeaderRequestID — входящий id принимается, если он не длиннее maxRequestID.
const (
	HeaderRequestID = models.HeaderRequestID
	maxRequestID    = 128
)

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestID {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(r *http.Request) string {
	if s, ok := r.Context().Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}
