package wallet

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/mymedic/mymedic-server/cmd/utils"
	"github.com/mymedic/mymedic-server/service/notifications"
	"gorm.io/gorm"
)

// PayoutCooldown is the minimum gap after a paid payout before the next
// request. Pending or rejected requests never extend it.
const PayoutCooldown = 7 * 24 * time.Hour

type WalletHandler struct {
	db *gorm.DB
}

func NewWalletHandler(db *gorm.DB) *WalletHandler {
	return &WalletHandler{db: db}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallet", utils.AuthMiddleware(h.GetWallet)).Methods("GET")
	router.HandleFunc("/wallet/payouts", utils.AuthMiddleware(h.RequestPayout)).Methods("POST")
	router.HandleFunc("/admin/payouts", utils.AuthMiddleware(h.GetPayoutQueue)).Methods("GET")
	router.HandleFunc("/admin/payouts/{id}/approve", utils.AuthMiddleware(h.ApprovePayout)).Methods("POST")
	router.HandleFunc("/admin/payouts/{id}/reject", utils.AuthMiddleware(h.RejectPayout)).Methods("POST")
}

// requireAdmin loads the caller's user row and checks the admin role
// server-side; role claims never come from the request.
func (h *WalletHandler) requireAdmin(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if user.Role != models.RoleAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	return &user, true
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var wallet models.Wallet
	if err := h.db.Where(models.Wallet{ProfessionalID: userID}).FirstOrCreate(&wallet).Error; err != nil {
		http.Error(w, "Error loading wallet", http.StatusInternalServerError)
		return
	}

	var payouts []models.PayoutRequest
	if err := h.db.Where("professional_id = ?", userID).
		Order("requested_at DESC").Find(&payouts).Error; err != nil {
		http.Error(w, "Error loading payout history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"wallet":  wallet,
		"payouts": payouts,
	})
}

// RequestPayout reserves funds out of the wallet at request time. The
// debit is a conditional atomic update so two racing requests cannot
// overdraw the balance.
func (h *WalletHandler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var body struct {
		Amount float64 `json:"amount"`
	}
	// Amount is optional; an empty body requests the full balance.
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.Amount < 0 {
		http.Error(w, "amount must not be negative", http.StatusBadRequest)
		return
	}

	now := time.Now()

	var lastPaid models.PayoutRequest
	err = h.db.Where("professional_id = ? AND status = ?", userID, models.PayoutPaid).
		Order("paid_at DESC").First(&lastPaid).Error
	if err == nil && lastPaid.PaidAt != nil && now.Sub(*lastPaid.PaidAt) < PayoutCooldown {
		until := lastPaid.PaidAt.Add(PayoutCooldown)
		http.Error(w, "Payout cooldown active until "+until.Format(time.RFC3339), http.StatusConflict)
		return
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		http.Error(w, "Error checking payout history", http.StatusInternalServerError)
		return
	}

	tx := h.db.Begin()

	var wallet models.Wallet
	if err := tx.Where(models.Wallet{ProfessionalID: userID}).FirstOrCreate(&wallet).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error loading wallet", http.StatusInternalServerError)
		return
	}

	amount := body.Amount
	if amount == 0 {
		amount = wallet.Balance
	}
	if amount <= 0 {
		tx.Rollback()
		http.Error(w, "Nothing to pay out", http.StatusBadRequest)
		return
	}

	// Reserve: the balance predicate makes overdraw impossible even if
	// a webhook credit or second request lands concurrently.
	debit := tx.Model(&models.Wallet{}).
		Where("id = ? AND balance >= ?", wallet.ID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if debit.Error != nil {
		tx.Rollback()
		http.Error(w, "Error reserving funds", http.StatusInternalServerError)
		return
	}
	if debit.RowsAffected == 0 {
		tx.Rollback()
		http.Error(w, "Insufficient wallet balance", http.StatusConflict)
		return
	}

	payout := models.PayoutRequest{
		ProfessionalID: userID,
		Amount:         amount,
		Status:         models.PayoutPending,
		RequestedAt:    now,
	}
	if err := tx.Create(&payout).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating payout request", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing payout request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(payout)
}

func (h *WalletHandler) GetPayoutQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(models.PayoutPending)
	}

	var payouts []models.PayoutRequest
	if err := h.db.Where("status = ?", status).
		Order("requested_at").Find(&payouts).Error; err != nil {
		http.Error(w, "Error retrieving payout requests", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payouts)
}

func parsePayoutID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	vars := mux.Vars(r)
	payoutID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid payout ID", http.StatusBadRequest)
		return 0, false
	}
	return uint(payoutID), true
}

// ApprovePayout marks a pending request paid. Funds were already
// reserved at request time, so approval never touches the wallet; a
// request that is no longer pending is a conflict, never a double
// debit.
func (h *WalletHandler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	payoutID, ok := parsePayoutID(w, r)
	if !ok {
		return
	}

	var payout models.PayoutRequest
	if err := h.db.First(&payout, payoutID).Error; err != nil {
		http.Error(w, "Payout request not found", http.StatusNotFound)
		return
	}

	now := time.Now()
	result := h.db.Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", payoutID, models.PayoutPending).
		Updates(map[string]interface{}{
			"status":       models.PayoutPaid,
			"paid_at":      now,
			"processed_by": admin.ID,
		})
	if result.Error != nil {
		http.Error(w, "Error approving payout", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Payout request already processed", http.StatusConflict)
		return
	}

	h.notifyProfessional(payout.ProfessionalID, "Payout paid",
		"Your payout request has been processed and marked as paid.")

	payout.Status = models.PayoutPaid
	payout.PaidAt = &now
	payout.ProcessedBy = &admin.ID

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payout)
}

// RejectPayout flips a pending request to rejected and refunds the
// reserved amount in the same transaction, so a rejection can never
// leave money missing from the wallet.
func (h *WalletHandler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	payoutID, ok := parsePayoutID(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	var payout models.PayoutRequest
	if err := h.db.First(&payout, payoutID).Error; err != nil {
		http.Error(w, "Payout request not found", http.StatusNotFound)
		return
	}

	tx := h.db.Begin()

	result := tx.Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", payoutID, models.PayoutPending).
		Updates(map[string]interface{}{
			"status":           models.PayoutRejected,
			"rejection_reason": body.Reason,
			"processed_by":     admin.ID,
		})
	if result.Error != nil {
		tx.Rollback()
		http.Error(w, "Error rejecting payout", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		http.Error(w, "Payout request already processed", http.StatusConflict)
		return
	}

	if err := tx.Model(&models.Wallet{}).
		Where("professional_id = ?", payout.ProfessionalID).
		Update("balance", gorm.Expr("balance + ?", payout.Amount)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error refunding wallet", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing rejection", http.StatusInternalServerError)
		return
	}

	h.notifyProfessional(payout.ProfessionalID, "Payout rejected",
		"Your payout request was rejected: "+body.Reason+". The amount was returned to your wallet.")

	payout.Status = models.PayoutRejected
	payout.RejectionReason = body.Reason
	payout.ProcessedBy = &admin.ID

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payout)
}

func (h *WalletHandler) notifyProfessional(professionalID uint, subject, body string) {
	var professional models.User
	if err := h.db.First(&professional, professionalID).Error; err != nil {
		return
	}
	notifications.Notify(professional.Email, subject, body)
}
