// ABOUTME: HTTP handlers for device endpoints
// ABOUTME: Implements status, option toggles, producer writes, event streaming, journal, and health check routes
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/harper/pencil-bridge/internal/application/manager"
	"github.com/harper/pencil-bridge/internal/domain/device"
	"github.com/harper/pencil-bridge/internal/domain/reconciler"
	"github.com/harper/pencil-bridge/internal/domain/sample"
	"github.com/harper/pencil-bridge/internal/infrastructure/producer"
)

// maxRecordsBody bounds one POST of records.
const maxRecordsBody = 1 << 20

// NewMux wires every route onto a fresh ServeMux.
func NewMux(mgr *manager.Manager, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/devices", NewDevicesHandler(mgr))
	mux.Handle("/devices/", NewDeviceHandler(mgr, logger))
	mux.HandleFunc("/healthz", HealthzHandler)
	return mux
}

type DevicesHandler struct {
	mgr *manager.Manager
}

func NewDevicesHandler(mgr *manager.Manager) *DevicesHandler {
	return &DevicesHandler{mgr: mgr}
}

func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type deviceInfo struct {
		ID          string `json:"id"`
		Capacity    int    `json:"capacity"`
		Pressed     bool   `json:"pressed"`
		Emitted     uint64 `json:"emitted"`
		Subscribers int    `json:"subscribers"`
		StatusURL   string `json:"status_url"`
		EventsURL   string `json:"events_url"`
	}

	devices := h.mgr.List()
	result := make([]deviceInfo, 0, len(devices))

	for _, dev := range devices {
		st := dev.Status()
		result = append(result, deviceInfo{
			ID:          st.ID,
			Capacity:    st.Capacity,
			Pressed:     st.Pressed,
			Emitted:     st.Totals.Emitted,
			Subscribers: st.Subscribers,
			StatusURL:   fmt.Sprintf("/devices/%s/status", st.ID),
			EventsURL:   fmt.Sprintf("/devices/%s/events", st.ID),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// DeviceHandler serves /devices/{id}/{status,options,records,flush,events,journal}.
type DeviceHandler struct {
	mgr    *manager.Manager
	logger *slog.Logger
}

func NewDeviceHandler(mgr *manager.Manager, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{mgr: mgr, logger: logger}
}

func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "devices" {
		http.NotFound(w, r)
		return
	}

	dev := h.mgr.Get(parts[1])
	if dev == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	switch parts[2] {
	case "status":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, dev.Status())
	case "options":
		h.serveOptions(w, r, dev)
	case "records":
		h.serveRecords(w, r, dev)
	case "flush":
		h.serveFlush(w, r, dev)
	case "events":
		h.serveEvents(w, r, dev)
	case "journal":
		h.serveJournal(w, r, dev)
	default:
		http.NotFound(w, r)
	}
}

// optionsPatch leaves flags that are absent from the body unchanged.
type optionsPatch struct {
	EnableEstimationUpdates *bool `json:"enable_estimation_updates"`
	EnablePredictions       *bool `json:"enable_predictions"`
}

func (p optionsPatch) apply(opts reconciler.Options) reconciler.Options {
	if p.EnableEstimationUpdates != nil {
		opts.EnableEstimationUpdates = *p.EnableEstimationUpdates
	}
	if p.EnablePredictions != nil {
		opts.EnablePredictions = *p.EnablePredictions
	}
	return opts
}

func (h *DeviceHandler) serveOptions(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, dev.Options())
	case http.MethodPut, http.MethodPatch:
		var patch optionsPatch
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid options: %v", err))
			return
		}
		opts := patch.apply(dev.Options())
		dev.SetOptions(opts)
		writeJSON(w, http.StatusOK, opts)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// recordInput is one record as written by a remote producer.
type recordInput struct {
	X                     float32 `json:"x"`
	Y                     float32 `json:"y"`
	Pressure              float32 `json:"pressure"`
	TiltX                 float32 `json:"tilt_x"`
	TiltY                 float32 `json:"tilt_y"`
	Buttons               uint16  `json:"buttons"`
	EstimationUpdateIndex uint32  `json:"estimation_update_index"`
}

func (in recordInput) sample() sample.Sample {
	return sample.Sample{
		Position:              sample.Vec2{X: in.X, Y: in.Y},
		Pressure:              in.Pressure,
		Tilt:                  sample.Vec2{X: in.TiltX, Y: in.TiltY},
		Buttons:               sample.Buttons(in.Buttons),
		EstimationUpdateIndex: in.EstimationUpdateIndex,
	}
}

// serveRecords writes a JSON array of records into the device's ring. The
// records stay pending until the next flush.
func (h *DeviceHandler) serveRecords(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pw, err := h.mgr.Producer(dev.ID())
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var records []recordInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&records); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid records: %v", err))
		return
	}

	samples := make([]sample.Sample, len(records))
	for i, rec := range records {
		samples[i] = rec.sample()
	}
	pw.AddBatch(samples)

	type response struct {
		Written int `json:"written"`
		Pending int `json:"pending"`
	}
	writeJSON(w, http.StatusAccepted, response{Written: len(samples), Pending: pw.Pending()})
}

// serveFlush notifies the device of every pending record.
func (h *DeviceHandler) serveFlush(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pw, err := h.mgr.Producer(dev.ID())
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	n, err := pw.Flush()
	if errors.Is(err, producer.ErrDetached) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type response struct {
		Count int `json:"count"`
	}
	writeJSON(w, http.StatusOK, response{Count: n})
}

func (h *DeviceHandler) serveEvents(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "device", dev.ID(), "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	client := &device.Client{ID: uuid.NewString()}
	events := dev.Subscribe(client)
	defer dev.Unsubscribe(client)

	logger := h.logger.With("device", dev.ID(), "client", client.ID)
	logger.Info("event subscriber connected")

	// Clients only listen; CloseRead handles their control frames.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			logger.Info("event subscriber disconnected", "dropped", client.Dropped())
			return
		case <-dev.Done():
			conn.Close(websocket.StatusGoingAway, "device shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				logger.Debug("event write failed", "error", err)
				return
			}
		}
	}
}

func (h *DeviceHandler) serveJournal(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	j, err := h.mgr.Journal()
	if errors.Is(err, manager.ErrJournalDisabled) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	events, err := j.Recent(r.Context(), dev.ID(), limit)
	if err != nil {
		h.logger.Error("journal query failed", "device", dev.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	if events == nil {
		events = []device.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		OK bool `json:"ok"`
	}

	writeJSON(w, http.StatusOK, response{OK: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, response{Error: msg})
}
