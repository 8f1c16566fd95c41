package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"wgate/internal/apperr"
	"wgate/internal/configuration"
	"wgate/internal/controller"
	"wgate/internal/logs"
	"wgate/internal/middleware"
	"wgate/internal/models"
	"wgate/internal/validation"
	"wgate/internal/vpn/wgdump"
)

// maxImportSize — предел тела запроса при импорте wg-quick файла.
const maxImportSize = 1 << 20

// Handler — JSON API поверх controller.Controller.
// Граф конфигурации без блокировок, поэтому изменяющие команды
// идут под mu.Lock, чтения под mu.RLock.
type Handler struct {
	ctl *controller.Controller
	mu  sync.RWMutex
}

func NewHandler(ctl *controller.Controller) *Handler { return &Handler{ctl: ctl} }

// CollectTraffic — сбор трафика под той же блокировкой, что и API (для тикера).
func (h *Handler) CollectTraffic(ctx context.Context) ([]models.TrafficData, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctl.CollectTraffic(ctx)
}

// writeError переводит доменные ошибки в problem+json.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *validation.ValidationError
		pe  *apperr.ParseError
		sce *apperr.SystemCommandError
		pre *apperr.PluginResolutionError
	)
	p := models.Problem{
		Status:    http.StatusInternalServerError,
		Detail:    err.Error(),
		RequestID: middleware.GetRequestID(r),
	}
	switch {
	case errors.As(err, &ve):
		p.Status, p.Title = http.StatusUnprocessableEntity, "Validation Failed"
		for _, v := range ve.Violations {
			p.Violations = append(p.Violations, models.FieldProblem{Field: v.Field, Message: v.Message})
		}
	case errors.As(err, &pe):
		p.Status, p.Title, p.Line = http.StatusBadRequest, "Parse Error", pe.Line
	case errors.Is(err, configuration.ErrNotFound), errors.Is(err, wgdump.ErrPeerNotFound):
		p.Status = http.StatusNotFound
	case errors.As(err, &sce):
		p.Status, p.Title, p.Hints = http.StatusBadGateway, "System Command Failed", sce.Hints
	case errors.Is(err, controller.ErrNoDriver), errors.As(err, &pre):
		p.Status, p.Title = http.StatusServiceUnavailable, "Traffic Storage Unavailable"
	}
	if p.Status >= http.StatusInternalServerError {
		logs.Component("api").WithError(err).WithField("reqid", p.RequestID).Error(http.StatusText(p.Status))
	}
	models.WriteProblem(w, r, p)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		models.WriteProblem(w, r, models.Problem{Status: http.StatusBadRequest, Detail: fmt.Sprintf("invalid id: %v", err)})
		return uuid.Nil, false
	}
	return id, true
}

func readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		models.WriteProblem(w, r, models.Problem{Status: http.StatusRequestEntityTooLarge, Detail: err.Error()})
		return "", false
	}
	return string(b), true
}

func writeText(w http.ResponseWriter, name, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.conf"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// ===== interfaces =====

// GET /interfaces
func (h *Handler) ListInterfaces(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	wg := h.ctl.Manager.Configuration().WireGuard()
	out := make([]InterfaceDTO, 0, len(wg.Interfaces))
	for _, iface := range wg.Interfaces {
		out = append(out, interfaceDTO(iface, len(wg.ClientsOf(iface.ID))))
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// POST /interfaces — сгенерировать новый интерфейс.
func (h *Handler) CreateInterface(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	iface, err := h.ctl.CreateInterface(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, interfaceDTO(iface, 0))
}

// POST /interfaces/import — тело: wg-quick файл интерфейса.
func (h *Handler) ImportInterface(w http.ResponseWriter, r *http.Request) {
	text, ok := readText(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	iface, err := h.ctl.ImportInterface(r.Context(), text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	clients := h.ctl.Manager.Configuration().WireGuard().ClientsOf(iface.ID)
	models.WriteJSON(w, http.StatusCreated, interfaceDTO(iface, len(clients)))
}

func (h *Handler) GetInterface(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	iface, err := h.ctl.Interface(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	clients := h.ctl.Manager.Configuration().WireGuard().ClientsOf(iface.ID)
	models.WriteJSON(w, http.StatusOK, interfaceDTO(iface, len(clients)))
}

func (h *Handler) DeleteInterface(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ctl.RemoveInterface(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /interfaces/{id}/config — файл wg-quick интерфейса.
func (h *Handler) InterfaceConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	iface, err := h.ctl.Interface(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := h.ctl.InterfaceConfig(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, iface.Name, text)
}

func (h *Handler) StartInterface(w http.ResponseWriter, r *http.Request) {
	h.runtime(w, r, h.ctl.Start)
}

func (h *Handler) StopInterface(w http.ResponseWriter, r *http.Request) {
	h.runtime(w, r, h.ctl.Stop)
}

func (h *Handler) runtime(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := op(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== clients =====

// GET /interfaces/{id}/clients
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, err := h.ctl.Interface(id); err != nil {
		writeError(w, r, err)
		return
	}
	clients := h.ctl.Manager.Configuration().WireGuard().ClientsOf(id)
	out := make([]ClientDTO, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientDTO(c))
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// POST /interfaces/{id}/clients — сгенерировать клиента.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.ctl.CreateClient(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, clientDTO(c))
}

// GET /interfaces/{id}/clients/export[?checksum=...] — tar.gz файлов клиентов.
// Совпадение checksum с текущим даёт 304.
func (h *Handler) ExportClients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	iface, err := h.ctl.Interface(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, sum, err := h.ctl.ExportClients(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", `"`+sum+`"`)
	if prev := r.URL.Query().Get("checksum"); prev != "" && prev == sum {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-clients-%s.tar.gz"`, iface.Name, sum[:8]))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// POST /clients/import — тело: wg-quick файл клиента.
func (h *Handler) ImportClient(w http.ResponseWriter, r *http.Request) {
	text, ok := readText(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, err := h.ctl.ImportClient(r.Context(), text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, clientDTO(c))
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ctl.RemoveClient(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /clients/{id}/config — файл wg-quick клиента.
func (h *Handler) ClientConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, err := h.ctl.Client(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	text, err := h.ctl.ClientConfig(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, c.Name, text)
}

// GET /clients/{id}/handshake
func (h *Handler) LastHandshake(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	at, err := h.ctl.LastHandshake(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := HandshakeResponse{ClientID: id.String()}
	if !at.IsZero() {
		out.LastHandshake = &at
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// ===== traffic & plugins =====

func (h *Handler) Traffic(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, err := h.ctl.Traffic(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		data = []models.TrafficData{}
	}
	models.WriteJSON(w, http.StatusOK, data)
}

// POST /traffic/collect — внеочередной сбор.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	data, err := h.CollectTraffic(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		data = []models.TrafficData{}
	}
	models.WriteJSON(w, http.StatusOK, data)
}

func (h *Handler) Plugins(w http.ResponseWriter, _ *http.Request) {
	all := h.ctl.Manager.Registry().All()
	out := make([]PluginDTO, 0, len(all))
	for _, p := range all {
		out = append(out, pluginDTO(p))
	}
	models.WriteJSON(w, http.StatusOK, out)
}
