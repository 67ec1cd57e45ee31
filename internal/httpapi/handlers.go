package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/khanglvm/personalize/internal/experiment"
	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/visitor"
)

// DefaultLimit is the feed size when limit or count is omitted.
const DefaultLimit = 10

// MaxLimit caps limit and count.
const MaxLimit = 100

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

type visitorKey struct{}

// requireVisitor rejects requests without a device id and stores the visitor in the context.
func requireVisitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := visitor.Visitor{
			DeviceID:   r.Header.Get(DeviceHeader),
			IdentityID: r.Header.Get(IdentityHeader),
		}
		if err := v.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, DeviceHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitorKey{}, v)))
	})
}

func visitorFrom(r *http.Request) visitor.Visitor {
	v, _ := r.Context().Value(visitorKey{}).(visitor.Visitor)
	return v
}

type categoryRequest struct {
	Category string `json:"category" validate:"required"`
}

type itemRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

type searchRequest struct {
	Term string `json:"term" validate:"required"`
}

type conversionRequest struct {
	Value float64 `json:"value" validate:"gte=0"`
}

// TrackCategory records a category view.
func (h *Handler) TrackCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ops.RecordCategoryView(r.Context(), visitorFrom(r), req.Category)
	w.WriteHeader(http.StatusNoContent)
}

// TrackItem records an item view.
func (h *Handler) TrackItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ops.RecordItemViewed(r.Context(), visitorFrom(r), req.ItemID)
	w.WriteHeader(http.StatusNoContent)
}

// TrackSearch records a search term.
func (h *Handler) TrackSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.ops.RecordSearch(r.Context(), visitorFrom(r), req.Term)
	w.WriteHeader(http.StatusNoContent)
}

// Profile returns the visitor's browsing profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ops.Profile(r.Context(), visitorFrom(r)))
}

// ForYou serves the general personalized feed.
func (h *Handler) ForYou(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ops.ForYou(r.Context(), visitorFrom(r), limitParam(r, "limit")))
}

// ContinueShopping serves the continue-shopping feed.
func (h *Handler) ContinueShopping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ops.ContinueShopping(r.Context(), visitorFrom(r), limitParamOr(r, "limit", recommend.DefaultContinueLimit)))
}

// FromSearches serves the recent-searches feed.
func (h *Handler) FromSearches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ops.FromSearches(r.Context(), visitorFrom(r), limitParam(r, "limit")))
}

// Similar serves items similar to the path item.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ops.SimilarTo(r.Context(), chi.URLParam(r, "itemID"), limitParam(r, "count")))
}

// Complementary serves cross-sell items for the path item.
func (h *Handler) Complementary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ops.Complementary(r.Context(), chi.URLParam(r, "itemID"), limitParam(r, "count")))
}

// Assignment returns the visitor's variant.
func (h *Handler) Assignment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := h.ops.GetAssignment(r.Context(), visitorFrom(r), name)
	if !ok {
		writeError(w, http.StatusNotFound, "experiment "+strconv.Quote(name)+" is not active")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Conversion records a conversion for the visitor's variant.
func (h *Handler) Conversion(w http.ResponseWriter, r *http.Request) {
	var req conversionRequest
	if !h.decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	a, ok := h.ops.RecordConversion(r.Context(), visitorFrom(r), name, req.Value)
	if !ok {
		writeError(w, http.StatusNotFound, "no assignment for experiment "+strconv.Quote(name))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListExperiments lists active experiments by type.
func (h *Handler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	testType := r.URL.Query().Get("type")
	if testType == "" {
		writeError(w, http.StatusBadRequest, "type query parameter is required")
		return
	}
	writeJSON(w, http.StatusOK, h.ops.ListExperiments(r.Context(), testType, r.URL.Query().Get("target_id")))
}

// Report returns per-variant outcome tallies.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.ops.ExperimentReport(r.Context(), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, experiment.ErrUnknownExperiment):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.log.Warn().Err(err).Msg("report failed")
		writeError(w, http.StatusInternalServerError, "report unavailable")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// limitParam parses a positive count capped at MaxLimit, defaulting to DefaultLimit.
func limitParam(r *http.Request, key string) int {
	return limitParamOr(r, key, DefaultLimit)
}

func limitParamOr(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	switch {
	case err != nil || n <= 0:
		return def
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // HTTP response write errors are not recoverable
	json.NewEncoder(w).Encode(data)
}
