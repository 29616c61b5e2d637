package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/pipeline"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
)

// OperatorTokenHeader carries the token guarding the synthetic event routes.
const OperatorTokenHeader = "X-Operator-Token"

const (
	defaultEventLimit        = 100
	defaultNotificationLimit = 50
	maxBodyBytes             = 64 << 10
)

// Pipeline is the part of the fetch pipeline the API reads and drives.
type Pipeline interface {
	ActiveEvents(kind domain.Kind) (pipeline.ActiveSet, error)
	Status() []pipeline.Status
	Inject(ctx context.Context, kind domain.Kind, raw domain.ProvisionalRecord) (domain.HazardEvent, bool, error)
}

// Store is the persistence the API reads and mutates.
type Store interface {
	store.HazardStore
	store.SubscriberStore
	store.NotificationStore
}

// API serves the /api/v1 routes.
type API struct {
	pipeline      Pipeline
	store         Store
	operatorToken string
	clock         clockwork.Clock
	logger        *slog.Logger
}

// NewAPI creates the API. An empty operatorToken disables the operator routes.
func NewAPI(p Pipeline, s Store, operatorToken string, clock clockwork.Clock, logger *slog.Logger) *API {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &API{pipeline: p, store: s, operatorToken: operatorToken, clock: clock, logger: logger}
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/events", a.listEvents)
	mux.HandleFunc("GET /api/v1/events/active", a.activeEvents)
	mux.HandleFunc("GET /api/v1/status", a.status)

	mux.HandleFunc("GET /api/v1/subscribers/{id}", a.getSubscriber)
	mux.HandleFunc("PUT /api/v1/subscribers/{id}", a.putSubscriber)
	mux.HandleFunc("GET /api/v1/subscribers/{id}/notifications", a.listNotifications)
	mux.HandleFunc("GET /api/v1/subscribers/{id}/notifications/unread-count", a.unreadCount)
	mux.HandleFunc("POST /api/v1/subscribers/{id}/notifications/read-all", a.markAllRead)
	mux.HandleFunc("POST /api/v1/subscribers/{id}/notifications/{nid}/read", a.markRead)
	mux.HandleFunc("DELETE /api/v1/subscribers/{id}/notifications/{nid}", a.deleteNotification)

	mux.HandleFunc("POST /api/v1/admin/synthetic-events", a.operator(a.injectEvent))
	mux.HandleFunc("DELETE /api/v1/admin/synthetic-events", a.operator(a.clearSynthetic))
}

// --- events ---

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	q := store.EventQuery{Limit: defaultEventLimit}
	params := r.URL.Query()

	if k := params.Get("kind"); k != "" {
		kind, err := domain.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Kind = kind
	}
	if s := params.Get("since"); s != "" {
		window, err := time.ParseDuration(s)
		if err != nil || window <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since %q: want a positive duration such as 24h", s))
			return
		}
		q.Since = a.clock.Now().Add(-window)
	}
	if l := params.Get("limit"); l != "" {
		limit, err := parseLimit(l)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.Limit = limit
	}

	events, err := a.store.ListEvents(r.Context(), q)
	if err != nil {
		a.internalError(w, "list events", err)
		return
	}
	if events == nil {
		events = []domain.HazardEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) activeEvents(w http.ResponseWriter, r *http.Request) {
	kinds := domain.Kinds
	if k := r.URL.Query().Get("kind"); k != "" {
		kind, err := domain.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kinds = []domain.Kind{kind}
	}

	sets := make([]pipeline.ActiveSet, 0, len(kinds))
	for _, kind := range kinds {
		set, err := a.pipeline.ActiveEvents(kind)
		if errors.Is(err, pipeline.ErrUnknownKind) {
			continue
		}
		if err != nil {
			a.internalError(w, "active events", err)
			return
		}
		sets = append(sets, set)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sets": sets})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": a.pipeline.Status()})
}

// --- subscribers ---

// SubscriberRequest is the body of PUT /api/v1/subscribers/{id}.
type SubscriberRequest struct {
	MinMagnitude float64          `json:"min_magnitude"`
	Geofence     *domain.Geofence `json:"geofence,omitempty"`
	Kinds        []string         `json:"kinds,omitempty"`
	Enabled      *bool            `json:"enabled,omitempty"`
}

func (req SubscriberRequest) toSubscriber(id string, now time.Time) (domain.Subscriber, error) {
	sub := domain.Subscriber{ID: id, MinMagnitude: req.MinMagnitude, Geofence: req.Geofence, Enabled: true, UpdatedAt: now}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	if req.MinMagnitude < 0 || req.MinMagnitude > 10 {
		return sub, fmt.Errorf("min_magnitude %.1f out of range [0, 10]", req.MinMagnitude)
	}
	if g := req.Geofence; g != nil {
		if !domain.ValidCoordinates(g.Latitude, g.Longitude) {
			return sub, fmt.Errorf("geofence center %v,%v is not a valid coordinate", g.Latitude, g.Longitude)
		}
		if g.RadiusKm <= 0 {
			return sub, errors.New("geofence radius_km must be positive")
		}
	}
	for _, k := range req.Kinds {
		kind, err := domain.ParseKind(k)
		if err != nil {
			return sub, err
		}
		sub.Kinds = append(sub.Kinds, kind)
	}
	return sub, nil
}

func (a *API) getSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, err := a.store.GetSubscriber(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	if err != nil {
		a.internalError(w, "get subscriber", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) putSubscriber(w http.ResponseWriter, r *http.Request) {
	var req SubscriberRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := req.toSubscriber(r.PathValue("id"), a.clock.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.PutSubscriber(r.Context(), sub); err != nil {
		a.internalError(w, "put subscriber", err)
		return
	}
	a.logger.Info("subscriber settings saved", "subscriber_id", sub.ID, "configured", sub.Configured())
	writeJSON(w, http.StatusOK, sub)
}

// --- notifications ---

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		if limit, err = parseLimit(l); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	list, err := a.store.ListNotifications(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.internalError(w, "list notifications", err)
		return
	}
	if list == nil {
		list = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.CountUnread(r.Context(), r.PathValue("id"))
	if err != nil {
		a.internalError(w, "count unread", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	err := a.store.MarkRead(r.Context(), r.PathValue("id"), r.PathValue("nid"))
	a.noContent(w, "mark read", err)
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.MarkAllRead(r.Context(), r.PathValue("id"))
	if err != nil {
		a.internalError(w, "mark all read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (a *API) deleteNotification(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteNotification(r.Context(), r.PathValue("id"), r.PathValue("nid"))
	a.noContent(w, "delete notification", err)
}

// --- operator ---

// InjectRequest is the body of POST /api/v1/admin/synthetic-events.
// Only the fields relevant to Kind are read.
type InjectRequest struct {
	// ID is the upstream event id of an earthquake. Reusing it makes a
	// repeated injection update the same event.
	ID        string  `json:"id,omitempty"`
	Kind      string  `json:"kind"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Place     string  `json:"place,omitempty"`
	// ObservedAt defaults to the server's current time.
	ObservedAt *time.Time `json:"observed_at,omitempty"`

	Magnitude float64 `json:"magnitude,omitempty"`
	DepthKm   float64 `json:"depth_km,omitempty"`

	Name     string  `json:"name,omitempty"`
	WindKmh  float64 `json:"wind_kmh,omitempty"`
	Category string  `json:"category,omitempty"`

	Basin          string  `json:"basin,omitempty"`
	DischargeRatio float64 `json:"discharge_ratio,omitempty"`
}

// InjectResponse is returned after a synthetic event was persisted.
type InjectResponse struct {
	Event domain.HazardEvent `json:"event"`
	New   bool               `json:"new"`
}

// Record converts the request into the provisional record the normalizer
// expects, as if an adapter had scraped it.
func (req InjectRequest) Record(now time.Time) domain.ProvisionalRecord {
	observed := now.UTC()
	if req.ObservedAt != nil {
		observed = req.ObservedAt.UTC()
	}
	rec := domain.ProvisionalRecord{
		Provider:   domain.ProviderSynthetic,
		UpstreamID: req.ID,
		Place:      req.Place,
		Latitude:   formatFloat(req.Latitude),
		Longitude:  formatFloat(req.Longitude),
		ObservedAt: observed,
		Synthetic:  true,
	}
	if req.Magnitude > 0 {
		rec.Magnitude = formatFloat(req.Magnitude)
	}
	if req.DepthKm > 0 {
		rec.Depth = formatFloat(req.DepthKm)
	}
	rec.Name = req.Name
	rec.Category = req.Category
	if req.WindKmh > 0 {
		rec.WindSpeed, rec.WindUnit = formatFloat(req.WindKmh), "km/h"
	}
	rec.Basin = req.Basin
	if req.DischargeRatio > 0 {
		rec.Discharge, rec.MeanDischarge = formatFloat(req.DischargeRatio), "1"
	}
	return rec
}

func (a *API) injectEvent(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, isNew, err := a.pipeline.Inject(r.Context(), kind, req.Record(a.clock.Now()))
	switch {
	case errors.Is(err, domain.ErrInvalidRecord), errors.Is(err, domain.ErrNotHazard):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, pipeline.ErrUnknownKind):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		a.internalError(w, "inject synthetic event", err)
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, InjectResponse{Event: event, New: isNew})
}

func (a *API) clearSynthetic(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.store.DeleteSyntheticNotifications(r.Context())
	if err != nil {
		a.internalError(w, "delete synthetic notifications", err)
		return
	}
	events, err := a.store.DeleteSyntheticEvents(r.Context())
	if err != nil {
		a.internalError(w, "delete synthetic events", err)
		return
	}
	a.logger.Info("synthetic data cleared", "events", events, "notifications", notifications)
	writeJSON(w, http.StatusOK, map[string]int64{"events": events, "notifications": notifications})
}

func (a *API) operator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.operatorToken == "" {
			writeError(w, http.StatusForbidden, "operator endpoints are disabled")
			return
		}
		got := r.Header.Get(OperatorTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.operatorToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid operator token")
			return
		}
		next(w, r)
	}
}

// --- helpers ---

func (a *API) noContent(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case err != nil:
		a.internalError(w, op, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) internalError(w http.ResponseWriter, op string, err error) {
	a.logger.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseLimit(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("invalid limit %q: want 1-1000", s)
	}
	return n, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
