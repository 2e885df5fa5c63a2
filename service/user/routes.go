package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/mymedic/mymedic-server/cmd/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/register", h.HandleRegister).Methods("POST")
	router.HandleFunc("/login", h.handleLogin).Methods("POST")
	router.HandleFunc("/refresh", h.handleRefreshToken).Methods("POST")
	router.HandleFunc("/professionals", h.GetProfessionals).Methods("GET")
	router.HandleFunc("/professionals/{id}", h.GetProfessional).Methods("GET")
	router.HandleFunc("/professionals/verify/{id}", utils.AuthMiddleware(h.VerifyProfessional)).Methods("POST")
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var registerRequest struct {
		FullName          string  `json:"full_name"`
		Email             string  `json:"email"`
		Password          string  `json:"password"`
		Phone             string  `json:"phone"`
		Role              string  `json:"role"`
		Specialty         string  `json:"specialty"`
		Bio               string  `json:"bio"`
		YearsOfExperience int     `json:"years_of_experience"`
		ConsultationFee   float64 `json:"consultation_fee"`
		Timezone          string  `json:"timezone"`
	}

	if err := json.NewDecoder(r.Body).Decode(&registerRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if registerRequest.Email == "" || registerRequest.Password == "" || registerRequest.FullName == "" {
		http.Error(w, "full_name, email and password are required", http.StatusBadRequest)
		return
	}
	if registerRequest.Role != models.RolePatient && registerRequest.Role != models.RoleProfessional {
		http.Error(w, "role must be patient or professional", http.StatusBadRequest)
		return
	}

	var existing models.User
	if err := h.db.Where("email = ?", registerRequest.Email).First(&existing).Error; err == nil {
		http.Error(w, "Email already registered", http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(registerRequest.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Error hashing password", http.StatusInternalServerError)
		return
	}

	user := models.User{
		FullName:     registerRequest.FullName,
		Email:        registerRequest.Email,
		PasswordHash: string(hash),
		Role:         registerRequest.Role,
		Phone:        registerRequest.Phone,
	}

	tx := h.db.Begin()

	if err := tx.Create(&user).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating user", http.StatusInternalServerError)
		return
	}

	if user.Role == models.RoleProfessional {
		timezone := registerRequest.Timezone
		if timezone == "" {
			timezone = "Africa/Lagos"
		}
		if _, err := time.LoadLocation(timezone); err != nil {
			tx.Rollback()
			http.Error(w, "timezone must be a valid IANA zone", http.StatusBadRequest)
			return
		}

		profile := models.Professional{
			UserID:            user.ID,
			Specialty:         registerRequest.Specialty,
			Bio:               registerRequest.Bio,
			YearsOfExperience: registerRequest.YearsOfExperience,
			ConsultationFee:   registerRequest.ConsultationFee,
			Timezone:          timezone,
		}
		if err := tx.Create(&profile).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error creating professional profile", http.StatusInternalServerError)
			return
		}

		wallet := models.Wallet{ProfessionalID: user.ID}
		if err := tx.Create(&wallet).Error; err != nil {
			tx.Rollback()
			http.Error(w, "Error creating wallet", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing registration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Registration successful",
		"user_id": user.ID,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&loginRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", loginRequest.Email).First(&user).Error; err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(loginRequest.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	accessToken, err := generateJWT(user.ID, 7500)
	if err != nil {
		http.Error(w, "Error generating access token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := generateRefreshToken(user.ID)
	if err != nil {
		http.Error(w, "Error generating refresh token", http.StatusInternalServerError)
		return
	}

	if err := saveRefreshToken(h.db, &user, refreshToken); err != nil {
		http.Error(w, "Error saving refresh token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":       "Login successful",
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user_id":       user.ID,
		"role":          user.Role,
	})
}

func (h *Handler) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var refreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&refreshRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(refreshRequest.RefreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(os.Getenv("SECRET_KEY")), nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusUnauthorized)
		return
	}
	if user.Refresh != refreshRequest.RefreshToken || time.Now().After(user.RefreshTokenExpiredAt) {
		http.Error(w, "Refresh token revoked or expired", http.StatusUnauthorized)
		return
	}

	accessToken, err := generateJWT(user.ID, 7500)
	if err != nil {
		http.Error(w, "Error generating access token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": accessToken,
	})
}

// GetProfessionals lists verified professionals for discovery, with
// optional specialty filter and the usual pagination envelope.
func (h *Handler) GetProfessionals(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 20

	query := h.db.Model(&models.Professional{}).Where("verified = ?", true)

	if specialty := r.URL.Query().Get("specialty"); specialty != "" {
		query = query.Where("specialty ILIKE ?", "%"+specialty+"%")
	}

	var total int64
	query.Count(&total)

	var professionals []models.Professional
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).Find(&professionals).Error; err != nil {
		http.Error(w, "Error retrieving professionals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"professionals": professionals,
		"total":         total,
		"page":          page,
		"page_size":     pageSize,
		"total_pages":   (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *Handler) GetProfessional(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return
	}

	var profile models.Professional
	if err := h.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		http.Error(w, "Professional not found", http.StatusNotFound)
		return
	}

	var user models.User
	if err := h.db.First(&user, profile.UserID).Error; err == nil {
		profile.User = &user
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"professional": profile,
		"full_name":    user.FullName,
	})
}

// VerifyProfessional flips the verified flag; admin only.
func (h *Handler) VerifyProfessional(w http.ResponseWriter, r *http.Request) {
	callerID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var caller models.User
	if err := h.db.First(&caller, callerID).Error; err != nil || caller.Role != models.RoleAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return
	}

	result := h.db.Model(&models.Professional{}).Where("user_id = ?", userID).Update("verified", true)
	if result.Error != nil {
		http.Error(w, "Error verifying professional", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Professional not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Professional verified successfully",
	})
}

func generateJWT(userID uint, expirySeconds int) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", userID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expirySeconds) * time.Second)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func generateRefreshToken(userID uint) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", userID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func saveRefreshToken(db *gorm.DB, user *models.User, refreshToken string) error {
	user.Refresh = refreshToken
	user.RefreshTokenExpiredAt = time.Now().Add(30 * 24 * time.Hour)
	if err := db.Save(user).Error; err != nil {
		return errors.New("could not persist refresh token")
	}
	return nil
}
