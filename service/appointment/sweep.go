package appointment

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/mymedic/mymedic-server/cmd/models"
	"gorm.io/gorm"
)

// ExpireUnpaid cancels every awaiting_payment appointment whose payment
// window has closed, in a single conditional batch update. The status
// predicate re-checks at write time, so an appointment confirmed by the
// payment webhook a moment earlier is never cancelled. Running the
// sweep twice in a row is a no-op the second time.
func ExpireUnpaid(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Model(&models.Appointment{}).
		Where("status = ? AND payment_expires_at < ?", models.AppointmentAwaitingPayment, now).
		Update("status", models.AppointmentCancelled)
	return result.RowsAffected, result.Error
}

// ExpireUnpaidAppointments is the endpoint the scheduled trigger calls.
// When CRON_KEY is configured the caller must present it; the operation
// takes no parameters and is idempotent.
func (h *AppointmentHandler) ExpireUnpaidAppointments(w http.ResponseWriter, r *http.Request) {
	if key := os.Getenv("CRON_KEY"); key != "" && r.Header.Get("X-Cron-Key") != key {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	cancelled, err := ExpireUnpaid(h.db, time.Now())
	if err != nil {
		http.Error(w, "Error expiring appointments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cancelled": cancelled,
	})
}
