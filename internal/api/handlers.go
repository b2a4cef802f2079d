package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trimet-twin/pipeline/internal/fleet"
	"github.com/trimet-twin/pipeline/internal/gtfsrt"
	"github.com/trimet-twin/pipeline/internal/models"
)

// VehicleSource provides the current vehicle collection
type VehicleSource interface {
	Get() fleet.Collection
}

// StopNames resolves stop ids to names
type StopNames interface {
	Name(id int) (string, bool)
	Len() int
}

// Pinger reports the health of an optional backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles HTTP requests for vehicle data
type Handler struct {
	vehicles   VehicleSource
	stops      StopNames
	db         Pinger
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Options configure a Handler
type Options struct {
	Stops StopNames
	// DB is checked by /health when set
	DB Pinger
	// StaleAfter marks the list stale in /health once it is older than this
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// NewHandler creates a handler reading from vehicles
func NewHandler(vehicles VehicleSource, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		vehicles:   vehicles,
		stops:      opts.Stops,
		db:         opts.DB,
		staleAfter: opts.StaleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// GetAllVehiclesResponse is the JSON response for GET /api/vehicles
type GetAllVehiclesResponse struct {
	Vehicles   []models.Vehicle `json:"vehicles"`
	Count      int              `json:"count"`
	SnapshotID string           `json:"snapshotId"`
	QueryTime  string           `json:"queryTime"`
	ReplacedAt *time.Time       `json:"replacedAt,omitempty"`
}

// VehicleDetailResponse is the JSON response for GET /api/vehicles/{vehicleID}
type VehicleDetailResponse struct {
	Vehicle      models.Vehicle `json:"vehicle"`
	NextStopName string         `json:"nextStopName,omitempty"`
	LastStopName string         `json:"lastStopName,omitempty"`
	SnapshotID   string         `json:"snapshotId"`
}

// StopResponse is the JSON response for GET /api/stops/{stopID}
type StopResponse struct {
	StopID int    `json:"stopId"`
	Name   string `json:"name"`
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status    string               `json:"status"`
	Vehicles  models.DataFreshness `json:"vehicles"`
	Stops     int                  `json:"stops"`
	Database  string               `json:"database,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
	Error     string               `json:"error,omitempty"`
}

// GetAllVehicles handles GET /api/vehicles
// Optional filters: type (bus, rail) and route (route number)
func (h *Handler) GetAllVehicles(w http.ResponseWriter, r *http.Request) {
	c := h.vehicles.Get()
	vehicleType := r.URL.Query().Get("type")
	route := r.URL.Query().Get("route")

	vehicles := c.Vehicles
	if vehicleType != "" || route != "" {
		vehicles = make([]models.Vehicle, 0, len(c.Vehicles))
		for _, v := range c.Vehicles {
			if vehicleType != "" && !strings.EqualFold(v.Type, vehicleType) {
				continue
			}
			if route != "" && v.RouteNumber != route {
				continue
			}
			vehicles = append(vehicles, v)
		}
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}

	resp := GetAllVehiclesResponse{
		Vehicles:   vehicles,
		Count:      len(vehicles),
		SnapshotID: c.SnapshotID,
		QueryTime:  c.QueryTime,
	}
	if !c.ReplacedAt.IsZero() {
		resp.ReplacedAt = &c.ReplacedAt
	}

	w.Header().Set("Cache-Control", "public, max-age=5")
	w.Header().Set("Vary", "Accept-Encoding")
	writeJSON(w, http.StatusOK, resp)
}

// GetVehicle handles GET /api/vehicles/{vehicleID}
// Returns one vehicle with its next and last stop names resolved
func (h *Handler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	c := h.vehicles.Get()
	v, ok := c.Find(vehicleID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "Vehicle not found",
			Details: map[string]interface{}{
				"vehicleID": vehicleID,
			},
		})
		return
	}

	resp := VehicleDetailResponse{Vehicle: v, SnapshotID: c.SnapshotID}
	if id, ok := v.NextStopID(); ok {
		resp.NextStopName = h.stopName(id)
	}
	if id, ok := v.LastStopID(); ok {
		resp.LastStopName = h.stopName(id)
	}

	w.Header().Set("Cache-Control", "public, max-age=5")
	writeJSON(w, http.StatusOK, resp)
}

// GetVehiclesProtobuf handles GET /api/vehicles.pb
// Returns the current list as a GTFS-Realtime VehiclePositions feed
func (h *Handler) GetVehiclesProtobuf(w http.ResponseWriter, r *http.Request) {
	data, err := gtfsrt.Marshal(h.vehicles.Get())
	if err != nil {
		h.logger.Error("API: failed to encode GTFS-RT feed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to encode feed",
			Details: map[string]interface{}{
				"internal": err.Error(),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Cache-Control", "public, max-age=5")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetStop handles GET /api/stops/{stopID}
func (h *Handler) GetStop(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "stopID")
	id, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "stopID must be an integer",
			Details: map[string]interface{}{
				"stopID": raw,
			},
		})
		return
	}

	name, ok := h.lookupStop(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "Stop not found",
			Details: map[string]interface{}{
				"stopID": id,
			},
		})
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, StopResponse{StopID: id, Name: name})
}

// Health handles GET /health
// Reports list freshness and, when a database is attached, its connectivity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	c := h.vehicles.Get()
	now := h.now().UTC()

	freshness := models.NewDataFreshness(c.ReplacedAt, now, h.staleAfter)
	freshness.SnapshotID = c.SnapshotID
	freshness.VehicleCount = c.Len()
	if ms, err := strconv.ParseInt(c.QueryTime, 10, 64); err == nil {
		qt := time.UnixMilli(ms).UTC()
		freshness.QueryTime = &qt
	}

	resp := HealthResponse{
		Status:    "ok",
		Vehicles:  freshness,
		Timestamp: now,
	}
	if h.stops != nil {
		resp.Stops = h.stops.Len()
	}
	if freshness.Status != models.FreshnessFresh {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			resp.Status = "error"
			resp.Database = "disconnected"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "connected"
		}
	}

	writeJSON(w, status, resp)
}

func (h *Handler) lookupStop(id int) (string, bool) {
	if h.stops == nil {
		return "", false
	}
	return h.stops.Name(id)
}

func (h *Handler) stopName(id int) string {
	name, _ := h.lookupStop(id)
	return name
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
