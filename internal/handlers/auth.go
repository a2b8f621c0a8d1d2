package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nortesoft/catasync/internal/database"
	"github.com/nortesoft/catasync/internal/models"
	"github.com/nortesoft/catasync/internal/utils"
)

// AuthHandler issues API tokens for backoffice users
type AuthHandler struct {
	db     *database.DB
	secret string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(db *database.DB, secret string) *AuthHandler {
	return &AuthHandler{db: db, secret: secret}
}

// Login validates credentials and returns an access token
func (ah *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user models.UserAuth
	if err := ah.db.Where("email = ? AND active = true", req.Email).First(&user).Error; err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := utils.GenerateToken(&user, ah.secret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":      user.ID,
			"email":   user.Email,
			"role":    user.Role,
			"company": user.CompanyID,
		},
	})
}
