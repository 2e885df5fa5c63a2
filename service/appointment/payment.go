package appointment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/mymedic/mymedic-server/cmd/utils"
	"github.com/mymedic/mymedic-server/service/notifications"
	"gorm.io/gorm"
)

const paystackInitializeURL = "https://api.paystack.co/transaction/initialize"

func platformFeePercent() float64 {
	if v := os.Getenv("PLATFORM_FEE_PERCENT"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil && pct >= 0 && pct < 100 {
			return pct
		}
	}
	return 10
}

// InitializePayment creates the pending transaction for an accepted
// appointment and hands the patient a Paystack authorization URL. The
// platform fee and net amount are fixed here and never recomputed.
func (h *AppointmentHandler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return
	}
	if appointment.PatientID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if appointment.Status != models.AppointmentAwaitingPayment {
		http.Error(w, "Appointment is not awaiting payment", http.StatusConflict)
		return
	}
	if appointment.PaymentExpiresAt != nil && appointment.PaymentExpiresAt.Before(time.Now()) {
		http.Error(w, "Payment window has expired", http.StatusConflict)
		return
	}

	var profile models.Professional
	if err := h.db.Where("user_id = ?", appointment.ProfessionalID).First(&profile).Error; err != nil {
		http.Error(w, "Professional profile not found", http.StatusNotFound)
		return
	}
	if profile.ConsultationFee <= 0 {
		http.Error(w, "Professional has no consultation fee configured", http.StatusBadRequest)
		return
	}

	var patient models.User
	if err := h.db.First(&patient, userID).Error; err != nil {
		http.Error(w, "Patient not found", http.StatusNotFound)
		return
	}

	amount := profile.ConsultationFee
	fee := amount * platformFeePercent() / 100
	reference := fmt.Sprintf("APT-%d-%d", appointment.ID, time.Now().Unix())

	transaction := models.Transaction{
		AppointmentID:     appointment.ID,
		PatientID:         appointment.PatientID,
		ProfessionalID:    appointment.ProfessionalID,
		Amount:            amount,
		PlatformFee:       fee,
		NetAmount:         amount - fee,
		PaystackReference: reference,
		Status:            models.TransactionPending,
	}

	if err := h.db.Create(&transaction).Error; err != nil {
		http.Error(w, "Error creating transaction", http.StatusInternalServerError)
		return
	}

	paystackReq := map[string]interface{}{
		"email":     patient.Email,
		"amount":    int64(amount * 100), // smallest currency unit
		"reference": reference,
		"metadata": map[string]interface{}{
			"appointment_id":  appointment.ID,
			"patient_id":      appointment.PatientID,
			"professional_id": appointment.ProfessionalID,
		},
	}

	payloadBytes, _ := json.Marshal(paystackReq)
	req, _ := http.NewRequest("POST", paystackInitializeURL, bytes.NewBuffer(payloadBytes))
	req.Header.Set("Authorization", "Bearer "+os.Getenv("PAYSTACK_SECRET_KEY"))
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		http.Error(w, "Error initializing payment", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var paystackResp struct {
		Status bool `json:"status"`
		Data   struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&paystackResp); err != nil || !paystackResp.Status {
		http.Error(w, "Error reading payment response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"authorization_url": paystackResp.Data.AuthorizationURL,
		"reference":         reference,
		"appointment_id":    appointment.ID,
		"amount":            amount,
	})
}

// HandlePaystackWebhook consumes charge.success events. Delivery is
// at-least-once: the transaction-status predicate makes the credit
// idempotent, and crediting the wallet plus confirming the appointment
// happen inside one database transaction.
func (h *AppointmentHandler) HandlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Paystack-Signature")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	mac := hmac.New(sha512.New, []byte(os.Getenv("PAYSTACK_SECRET_KEY")))
	mac.Write(body)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expectedMAC)) {
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string  `json:"reference"`
			Status    string  `json:"status"`
			Amount    float64 `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Error parsing webhook payload", http.StatusBadRequest)
		return
	}

	if payload.Event != "charge.success" {
		w.WriteHeader(http.StatusOK)
		return
	}

	tx := h.db.Begin()

	var transaction models.Transaction
	if err := tx.Where("paystack_reference = ?", payload.Data.Reference).First(&transaction).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}

	// Idempotency guard: only the first delivery flips the status, so a
	// redelivered webhook can never double-credit the wallet.
	result := tx.Model(&models.Transaction{}).
		Where("id = ? AND status <> ?", transaction.ID, models.TransactionSuccess).
		Update("status", models.TransactionSuccess)
	if result.Error != nil {
		tx.Rollback()
		http.Error(w, "Error updating transaction", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Already processed"})
		return
	}

	var wallet models.Wallet
	if err := tx.Where(models.Wallet{ProfessionalID: transaction.ProfessionalID}).
		FirstOrCreate(&wallet).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error loading wallet", http.StatusInternalServerError)
		return
	}
	if err := tx.Model(&models.Wallet{}).Where("id = ?", wallet.ID).
		Update("balance", gorm.Expr("balance + ?", transaction.NetAmount)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error crediting wallet", http.StatusInternalServerError)
		return
	}

	// Confirm the appointment only if the sweep has not already
	// cancelled it; the credit stands either way since the charge
	// succeeded.
	confirm := tx.Model(&models.Appointment{}).
		Where("id = ? AND status = ?", transaction.AppointmentID, models.AppointmentAwaitingPayment).
		Update("status", models.AppointmentConfirmed)
	if confirm.Error != nil {
		tx.Rollback()
		http.Error(w, "Error confirming appointment", http.StatusInternalServerError)
		return
	}
	if confirm.RowsAffected == 0 {
		log.Printf("payment received for appointment %d after it left awaiting_payment", transaction.AppointmentID)
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing webhook processing", http.StatusInternalServerError)
		return
	}

	var professional models.User
	if err := h.db.First(&professional, transaction.ProfessionalID).Error; err == nil {
		notifications.Notify(professional.Email, "Appointment confirmed",
			fmt.Sprintf("Payment of %.2f was received; %.2f was credited to your wallet.",
				transaction.Amount, transaction.NetAmount))
	}

	w.WriteHeader(http.StatusOK)
}
