package models

import (
	"encoding/json"
	"net/http"
)

// HeaderRequestID — заголовок с id запроса, его выставляет middleware.RequestID.
const HeaderRequestID = "X-Request-Id"

// Problem — ответ API об ошибке (RFC 7807) с полями wgate вместо
// произвольного extra: строка файла для ошибок разбора, нарушения
// валидации, подсказки для системных команд.
type Problem struct {
	Type       string         `json:"type,omitempty"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"` // путь запроса
	RequestID  string         `json:"request_id,omitempty"`
	Line       int            `json:"line,omitempty"`
	Violations []FieldProblem `json:"violations,omitempty"`
	Hints      []string       `json:"hints,omitempty"`
}

// FieldProblem — нарушение правила для одного поля.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// WriteProblem пишет p как application/problem+json. Пустые Title,
// Instance и RequestID берутся из статуса, запроса и заголовка ответа.
func WriteProblem(w http.ResponseWriter, r *http.Request, p Problem) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	if p.Instance == "" && r != nil {
		p.Instance = r.URL.Path
	}
	if p.RequestID == "" {
		p.RequestID = w.Header().Get(HeaderRequestID)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
