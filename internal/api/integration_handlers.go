package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/integration"
	"github.com/oneclicktag/server/internal/models"
)

// customerIDParam parses and ownership-checks the {id} route parameter
func customerIDParam(db *gorm.DB, r *http.Request) (int, error) {
	user := r.Context().Value(userContextKey).(*models.User)
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, integration.ErrCustomerNotFound
	}

	var count int64
	err = db.Model(&models.Customer{}).
		Where("id = ? AND user_id = ?", id, user.ID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, integration.ErrCustomerNotFound
	}
	return id, nil
}

// HandleGetAuthURL returns the Google consent URL for a customer
func HandleGetAuthURL(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		url, err := svc.GetAuthURL(r.Context(), customerID)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"auth_url": url})
	}
}

// ConnectRequest carries the authorization code from the OAuth redirect
type ConnectRequest struct {
	Code string `json:"code"`
}

// HandleConnect runs the connect flow for a customer. The call blocks until
// the flow finishes; clients follow live progress on the progress stream.
func HandleConnect(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		var req ConnectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
			http.Error(w, "Authorization code is required", http.StatusBadRequest)
			return
		}

		customer, err := svc.Connect(r.Context(), customerID, req.Code)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customer)
	}
}

// HandleDisconnect tears down a customer's integration
func HandleDisconnect(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		customer, err := svc.Disconnect(r.Context(), customerID)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customer)
	}
}

// HandleGetConnectionStatus probes the three products and reports per-target
// health
func HandleGetConnectionStatus(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		status, err := svc.GetConnectionStatus(r.Context(), customerID)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

// HandleProgressStream streams connect progress events as newline-delimited
// JSON until the flow completes or the client goes away
func HandleProgressStream(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		events, cancel := svc.Broker().Subscribe(customerID)
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		enc := json.NewEncoder(w)
		for {
			select {
			case event, open := <-events:
				if !open {
					return
				}
				if err := enc.Encode(event); err != nil {
					log.Printf("Progress stream: write failed: %v", err)
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

// HandleGetAdsAccounts lists the cached Google Ads accounts of a customer.
// ?refresh=true re-syncs the cache from the Ads API first.
func HandleGetAdsAccounts(db *gorm.DB, svc *integration.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		if r.URL.Query().Get("refresh") == "true" {
			if err := svc.RefreshAdsAccounts(r.Context(), customerID); err != nil {
				writeIntegrationError(w, err)
				return
			}
		}

		var accounts []models.AdsAccount
		err = db.Where("customer_id = ?", customerID).
			Order("descriptive_name").
			Find(&accounts).Error
		if err != nil {
			http.Error(w, "Failed to fetch ads accounts", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(accounts)
	}
}

// SelectAdsAccountRequest picks which Ads account conversions go to
type SelectAdsAccountRequest struct {
	AdsCustomerID string `json:"ads_customer_id"`
}

// HandleSelectAdsAccount sets the active Ads account of a customer
func HandleSelectAdsAccount(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerIDParam(db, r)
		if err != nil {
			writeIntegrationError(w, err)
			return
		}

		var req SelectAdsAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AdsCustomerID == "" {
			http.Error(w, "ads_customer_id is required", http.StatusBadRequest)
			return
		}

		var count int64
		err = db.Model(&models.AdsAccount{}).
			Where("customer_id = ? AND ads_customer_id = ?", customerID, req.AdsCustomerID).
			Count(&count).Error
		if err != nil {
			http.Error(w, "Failed to fetch ads accounts", http.StatusInternalServerError)
			return
		}
		if count == 0 {
			http.Error(w, "Unknown ads account for this customer", http.StatusBadRequest)
			return
		}

		err = db.Model(&models.Customer{}).
			Where("id = ?", customerID).
			Update("ads_customer_id", req.AdsCustomerID).Error
		if err != nil {
			http.Error(w, "Failed to update customer", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// writeIntegrationError maps service errors to HTTP responses
func writeIntegrationError(w http.ResponseWriter, err error) {
	var connErr *integration.ConnectError

	switch {
	case errors.Is(err, integration.ErrCustomerNotFound):
		http.Error(w, "Customer not found", http.StatusNotFound)
	case errors.Is(err, integration.ErrNotConnected):
		http.Error(w, "Customer is not connected to Google", http.StatusConflict)
	case errors.Is(err, integration.ErrAlreadyInProgress):
		http.Error(w, "An operation is already running for this customer", http.StatusConflict)
	case errors.Is(err, integration.ErrMissingPrerequisite):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &connErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"step":    connErr.Step,
			"message": connErr.Message,
		})
	default:
		log.Printf("Integration handler error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
