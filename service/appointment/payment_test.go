package appointment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const webhookSecret = "test-paystack-secret"

func signWebhook(body []byte) string {
	mac := hmac.New(sha512.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *AppointmentHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set("X-Paystack-Signature", signature)
	rec := httptest.NewRecorder()
	h.HandlePaystackWebhook(rec, req)
	return rec
}

func chargeSuccessBody(reference string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":100000}}`, reference))
}

func seedAwaitingPayment(t *testing.T, db *gorm.DB) (*models.Appointment, *models.Transaction) {
	t.Helper()
	patient := createUser(t, db, models.RolePatient)
	professional := createUser(t, db, models.RoleProfessional)

	appt := createAppointment(t, db, patient.ID, professional.ID, models.AppointmentAwaitingPayment)
	expires := time.Now().UTC().Add(PaymentWindow)
	require.NoError(t, db.Model(appt).Update("payment_expires_at", expires).Error)

	transaction := models.Transaction{
		AppointmentID:     appt.ID,
		PatientID:         patient.ID,
		ProfessionalID:    professional.ID,
		Amount:            1000,
		PlatformFee:       100,
		NetAmount:         900,
		PaystackReference: fmt.Sprintf("APT-%d-%d", appt.ID, time.Now().Unix()),
		Status:            models.TransactionPending,
	}
	require.NoError(t, db.Create(&transaction).Error)
	return appt, &transaction
}

func walletBalance(t *testing.T, db *gorm.DB, professionalID uint) float64 {
	t.Helper()
	var wallet models.Wallet
	require.NoError(t, db.Where("professional_id = ?", professionalID).First(&wallet).Error)
	return wallet.Balance
}

func TestWebhookConfirmsAndCreditsOnce(t *testing.T) {
	t.Setenv("PAYSTACK_SECRET_KEY", webhookSecret)
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)

	appt, transaction := seedAwaitingPayment(t, db)
	body := chargeSuccessBody(transaction.PaystackReference)

	rec := postWebhook(h, body, signWebhook(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var reloadedTx models.Transaction
	require.NoError(t, db.First(&reloadedTx, transaction.ID).Error)
	assert.Equal(t, models.TransactionSuccess, reloadedTx.Status)

	var reloadedAppt models.Appointment
	require.NoError(t, db.First(&reloadedAppt, appt.ID).Error)
	assert.Equal(t, models.AppointmentConfirmed, reloadedAppt.Status)

	assert.InDelta(t, 900, walletBalance(t, db, appt.ProfessionalID), 0.001)

	// Redelivery of the same event must not credit the wallet again.
	rec = postWebhook(h, body, signWebhook(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Already processed")
	assert.InDelta(t, 900, walletBalance(t, db, appt.ProfessionalID), 0.001)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Setenv("PAYSTACK_SECRET_KEY", webhookSecret)
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)

	appt, transaction := seedAwaitingPayment(t, db)
	body := chargeSuccessBody(transaction.PaystackReference)

	rec := postWebhook(h, body, "deadbeef")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var reloadedTx models.Transaction
	require.NoError(t, db.First(&reloadedTx, transaction.ID).Error)
	assert.Equal(t, models.TransactionPending, reloadedTx.Status)

	var reloadedAppt models.Appointment
	require.NoError(t, db.First(&reloadedAppt, appt.ID).Error)
	assert.Equal(t, models.AppointmentAwaitingPayment, reloadedAppt.Status)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	t.Setenv("PAYSTACK_SECRET_KEY", webhookSecret)
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)

	_, transaction := seedAwaitingPayment(t, db)
	body := []byte(fmt.Sprintf(
		`{"event":"charge.failed","data":{"reference":%q,"status":"failed","amount":100000}}`,
		transaction.PaystackReference))

	rec := postWebhook(h, body, signWebhook(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var reloadedTx models.Transaction
	require.NoError(t, db.First(&reloadedTx, transaction.ID).Error)
	assert.Equal(t, models.TransactionPending, reloadedTx.Status)
}

func TestWebhookUnknownReference(t *testing.T) {
	t.Setenv("PAYSTACK_SECRET_KEY", webhookSecret)
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)

	body := chargeSuccessBody("APT-999-0")
	rec := postWebhook(h, body, signWebhook(body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookAfterSweepKeepsCredit(t *testing.T) {
	t.Setenv("PAYSTACK_SECRET_KEY", webhookSecret)
	db := setupTestDB(t)
	h := NewAppointmentHandler(db)

	appt, transaction := seedAwaitingPayment(t, db)

	// The sweep won the race: the appointment expired before the
	// webhook arrived.
	require.NoError(t, db.Model(appt).Updates(map[string]interface{}{
		"status":             models.AppointmentCancelled,
		"payment_expires_at": time.Now().UTC().Add(-time.Hour),
	}).Error)

	body := chargeSuccessBody(transaction.PaystackReference)
	rec := postWebhook(h, body, signWebhook(body))
	require.Equal(t, http.StatusOK, rec.Code)

	// The charge succeeded, so the professional is still credited; the
	// appointment stays cancelled.
	assert.InDelta(t, 900, walletBalance(t, db, appt.ProfessionalID), 0.001)

	var reloadedAppt models.Appointment
	require.NoError(t, db.First(&reloadedAppt, appt.ID).Error)
	assert.Equal(t, models.AppointmentCancelled, reloadedAppt.Status)
}
