package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/models"
)

// CustomerRequest is the payload for creating or updating a customer
type CustomerRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

func (r *CustomerRequest) validate() string {
	if strings.TrimSpace(r.Name) == "" {
		return "Customer name is required"
	}
	if strings.TrimSpace(r.Domain) == "" {
		return "Customer domain is required"
	}
	return ""
}

// HandleGetCustomers returns all customers of the current user
func HandleGetCustomers(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)

		var customers []models.Customer
		err := db.Where("user_id = ?", user.ID).
			Order("created_at DESC").
			Find(&customers).Error
		if err != nil {
			http.Error(w, "Failed to fetch customers", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customers)
	}
}

// HandleGetCustomer returns a single customer by ID
func HandleGetCustomer(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)
		customerID := chi.URLParam(r, "id")

		var customer models.Customer
		err := db.Where("id = ? AND user_id = ?", customerID, user.ID).
			First(&customer).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				http.Error(w, "Customer not found", http.StatusNotFound)
			} else {
				http.Error(w, "Failed to fetch customer", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customer)
	}
}

// HandleCreateCustomer creates a new customer
func HandleCreateCustomer(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)

		var req CustomerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if msg := req.validate(); msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}

		customer := models.Customer{
			UserID: user.ID,
			Name:   strings.TrimSpace(req.Name),
			Domain: normalizeDomain(req.Domain),
		}

		if err := db.Create(&customer).Error; err != nil {
			http.Error(w, "Failed to create customer", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(customer)
	}
}

// HandleUpdateCustomer updates a customer's name and domain
func HandleUpdateCustomer(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)
		customerID := chi.URLParam(r, "id")

		var customer models.Customer
		err := db.Where("id = ? AND user_id = ?", customerID, user.ID).
			First(&customer).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				http.Error(w, "Customer not found", http.StatusNotFound)
			} else {
				http.Error(w, "Failed to fetch customer", http.StatusInternalServerError)
			}
			return
		}

		var req CustomerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if msg := req.validate(); msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}

		customer.Name = strings.TrimSpace(req.Name)
		customer.Domain = normalizeDomain(req.Domain)

		if err := db.Save(&customer).Error; err != nil {
			http.Error(w, "Failed to update customer", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(customer)
	}
}

// HandleDeleteCustomer deletes a customer and its dependent rows. Connected
// customers must be disconnected first so the external cleanup runs.
func HandleDeleteCustomer(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)
		customerID := chi.URLParam(r, "id")

		var customer models.Customer
		err := db.Where("id = ? AND user_id = ?", customerID, user.ID).
			First(&customer).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				http.Error(w, "Customer not found", http.StatusNotFound)
			} else {
				http.Error(w, "Failed to fetch customer", http.StatusInternalServerError)
			}
			return
		}

		if customer.IsConnected() {
			http.Error(w, "Customer is connected; disconnect before deleting", http.StatusConflict)
			return
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("customer_id = ?", customer.ID).Delete(&models.Tracking{}).Error; err != nil {
				return err
			}
			if err := tx.Where("customer_id = ?", customer.ID).Delete(&models.IntegrationToken{}).Error; err != nil {
				return err
			}
			if err := tx.Where("customer_id = ?", customer.ID).Delete(&models.AdsAccount{}).Error; err != nil {
				return err
			}
			return tx.Delete(&customer).Error
		})
		if err != nil {
			http.Error(w, "Failed to delete customer", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// normalizeDomain strips scheme and trailing slash from a domain input
func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}
