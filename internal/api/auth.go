package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/oneclicktag/server/internal/config"
	"github.com/oneclicktag/server/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents login response
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// HandleLogin handles operator login
func HandleLogin(db *gorm.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Println("Login: Failed to decode request")
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		log.Println("Login: Authentication attempt")

		var user models.User
		err := db.Where("username = ?", req.Username).First(&user).Error
		if err != nil {
			log.Println("Login: Authentication failed - user not found")
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		if !user.Active {
			log.Println("Login: Authentication failed - account disabled")
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Println("Login: Authentication failed - invalid password")
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		log.Println("Login: Successful authentication")

		token, err := generateJWT(user.ID, cfg.JWTSecret)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{
			Token: token,
			User:  &user,
		})
	}
}

// HandleLogout handles operator logout
func HandleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// In a stateless JWT system, logout is handled client-side
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message": "Logged out successfully"}`))
	}
}

// HandleSetup creates the first operator account. It refuses once any
// account exists.
func HandleSetup(db *gorm.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var count int64
		if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		if count > 0 {
			http.Error(w, "Setup already completed", http.StatusForbidden)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if len(req.Password) < 8 {
			http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Println("Error hashing password:", err.Error())
			http.Error(w, "Failed to hash password", http.StatusInternalServerError)
			return
		}

		newUser := models.User{
			Username:  req.Username,
			Password:  string(hashedPassword),
			Active:    true,
			CreatedAt: time.Now(),
		}

		err = db.Create(&newUser).Error
		if err != nil {
			log.Println("Error creating user:", err.Error())
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		token, err := generateJWT(newUser.ID, cfg.JWTSecret)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{
			Token: token,
			User:  &newUser,
		})
	}
}

// HandleGetCurrentUser returns the current authenticated user
func HandleGetCurrentUser(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	}
}

// StatusResponse represents setup status response
type StatusResponse struct {
	SetupComplete bool `json:"setupComplete"`
}

// HandleGetSetupStatus checks if setup has been completed
func HandleGetSetupStatus(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var count int64
		err := db.Model(&models.User{}).Count(&count).Error
		if err != nil {
			log.Println("Error checking user count:", err.Error())
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StatusResponse{
			SetupComplete: count > 0,
		})
	}
}

// AuthMiddleware validates JWT tokens
func AuthMiddleware(jwtSecret string, db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims := token.Claims.(jwt.MapClaims)
			userID := int(claims["user_id"].(float64))

			// Load user from database
			var user models.User
			err = db.Where("id = ?", userID).First(&user).Error
			if err != nil {
				log.Println("AuthMiddleware: Failed to load user:", err.Error())
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// generateJWT generates a JWT token for a user
func generateJWT(userID int, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(2 * time.Hour).Unix(),
	})

	return token.SignedString([]byte(secret))
}
