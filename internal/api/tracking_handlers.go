package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/integration"
	"github.com/oneclicktag/server/internal/models"
)

// TrackingResponse is the JSON shape of a tracking with its destinations
// expanded
type TrackingResponse struct {
	models.Tracking
	Destinations []string `json:"destinations"`
}

func toTrackingResponse(t models.Tracking) TrackingResponse {
	return TrackingResponse{Tracking: t, Destinations: t.Destinations()}
}

// HandleGetTrackings lists the trackings of a customer
func HandleGetTrackings(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		var trackings []models.Tracking
		err = db.Where("customer_id = ?", customerID).
			Order("created_at DESC").
			Find(&trackings).Error
		if err != nil {
			http.Error(w, "Failed to fetch trackings", http.StatusInternalServerError)
			return
		}

		out := make([]TrackingResponse, len(trackings))
		for i, t := range trackings {
			out[i] = toTrackingResponse(t)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// HandleGetTracking returns a single tracking
func HandleGetTracking(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		trackingID := chi.URLParam(r, "trackingId")

		var tracking models.Tracking
		err = db.Where("id = ? AND customer_id = ?", trackingID, customerID).
			First(&tracking).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				http.Error(w, "Tracking not found", http.StatusNotFound)
			} else {
				http.Error(w, "Failed to fetch tracking", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toTrackingResponse(tracking))
	}
}

// HandleCreateTracking provisions a new tracking for a customer
func HandleCreateTracking(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		var req integration.TrackingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		tracking, err := svc.CreateTracking(r.Context(), customerID, req)
		if err != nil {
			// A FAILED row still comes back so the client can show what
			// happened.
			if tracking != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadGateway)
				json.NewEncoder(w).Encode(toTrackingResponse(*tracking))
				return
			}
			writeIntegrationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toTrackingResponse(*tracking))
	}
}

// HandleDeleteTracking removes a tracking and its external resources
func HandleDeleteTracking(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		trackingID, err := strconv.Atoi(chi.URLParam(r, "trackingId"))
		if err != nil {
			http.Error(w, "Invalid tracking id", http.StatusBadRequest)
			return
		}

		err = svc.DeleteTracking(r.Context(), customerID, trackingID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				http.Error(w, "Tracking not found", http.StatusNotFound)
				return
			}
			writeIntegrationError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
