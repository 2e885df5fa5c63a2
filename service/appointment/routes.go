package appointment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/mymedic/mymedic-server/cmd/utils"
	"github.com/mymedic/mymedic-server/service/availability"
	"github.com/mymedic/mymedic-server/service/notifications"
	"gorm.io/gorm"
)

type AppointmentHandler struct {
	db    *gorm.DB
	slots *availability.AvailabilityHandler
}

func NewAppointmentHandler(db *gorm.DB) *AppointmentHandler {
	return &AppointmentHandler{
		db:    db,
		slots: availability.NewAvailabilityHandler(db),
	}
}

func (h *AppointmentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/appointments/book", utils.AuthMiddleware(h.BookAppointment)).Methods("POST")
	router.HandleFunc("/appointments/patient", utils.AuthMiddleware(h.GetPatientAppointments)).Methods("GET")
	router.HandleFunc("/appointments/professional", utils.AuthMiddleware(h.GetProfessionalAppointments)).Methods("GET")
	router.HandleFunc("/appointments/expire-unpaid", h.ExpireUnpaidAppointments).Methods("POST")
	router.HandleFunc("/appointments/{id}", utils.AuthMiddleware(h.GetAppointment)).Methods("GET")
	router.HandleFunc("/appointments/{id}/accept", utils.AuthMiddleware(h.AcceptAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/decline", utils.AuthMiddleware(h.DeclineAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/complete", utils.AuthMiddleware(h.CompleteAppointment)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/notes", utils.AuthMiddleware(h.UpdateNotes)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/meet-link", utils.AuthMiddleware(h.UpdateMeetLink)).Methods("PATCH")
	router.HandleFunc("/appointments/{id}/ics", utils.AuthMiddleware(h.DownloadICS)).Methods("GET")

	router.HandleFunc("/appointments/{id}/payment", utils.AuthMiddleware(h.InitializePayment)).Methods("POST")
	router.HandleFunc("/payments/webhook", h.HandlePaystackWebhook).Methods("POST")
}

// BookAppointment validates a requested slot against the generator's
// output for that date and creates the reservation in pending.
func (h *AppointmentHandler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	patientID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var bookingRequest struct {
		ProfessionalID uint   `json:"professional_id"`
		Date           string `json:"date"`
		Time           string `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&bookingRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if bookingRequest.ProfessionalID == 0 {
		http.Error(w, "professional_id is required", http.StatusBadRequest)
		return
	}

	date, err := time.Parse("2006-01-02", bookingRequest.Date)
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	var professional models.User
	if err := h.db.Where("id = ? AND role = ?", bookingRequest.ProfessionalID, models.RoleProfessional).
		First(&professional).Error; err != nil {
		http.Error(w, "Professional not found", http.StatusNotFound)
		return
	}

	slots, err := h.slots.SlotsForDate(bookingRequest.ProfessionalID, date, time.Now())
	if err != nil {
		http.Error(w, "Error generating slots", http.StatusInternalServerError)
		return
	}

	var chosen *availability.Slot
	for i := range slots {
		if slots[i].Time == bookingRequest.Time {
			chosen = &slots[i]
			break
		}
	}
	if chosen == nil {
		http.Error(w, "Time slot not available", http.StatusConflict)
		return
	}

	appointment := models.Appointment{
		PatientID:      patientID,
		ProfessionalID: bookingRequest.ProfessionalID,
		ScheduledAt:    chosen.Start,
		DurationMins:   chosen.DurationMins,
		Status:         models.AppointmentPending,
	}

	tx := h.db.Begin()

	// Re-check occupancy inside the transaction: a concurrent booking
	// may have taken the slot between generation and insert.
	slotEnd := chosen.Start.Add(time.Duration(chosen.DurationMins) * time.Minute)
	var clashes []models.Appointment
	if err := tx.Where("professional_id = ? AND status IN ? AND scheduled_at >= ? AND scheduled_at < ?",
		bookingRequest.ProfessionalID, models.ActiveAppointmentStatuses,
		chosen.Start.Add(-12*time.Hour), slotEnd.Add(12*time.Hour)).
		Find(&clashes).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error checking slot", http.StatusInternalServerError)
		return
	}
	for _, existing := range clashes {
		if chosen.Start.Before(existing.EndsAt()) && slotEnd.After(existing.ScheduledAt) {
			tx.Rollback()
			http.Error(w, "Time slot already booked", http.StatusConflict)
			return
		}
	}

	if err := tx.Create(&appointment).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating appointment", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error completing booking", http.StatusInternalServerError)
		return
	}

	notifications.Notify(professional.Email, "New appointment request",
		fmt.Sprintf("You have a new appointment request for %s. Review it in your consultation hub.",
			appointment.ScheduledAt.Format("Mon, 02 Jan 2006 15:04")))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) listAppointments(w http.ResponseWriter, r *http.Request, column string) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 100

	query := h.db.Model(&models.Appointment{}).Where(column+" = ?", userID).
		Preload("Patient").Preload("Professional")

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	var appointments []models.Appointment
	if err := query.Offset((page - 1) * pageSize).Limit(pageSize).
		Order("scheduled_at DESC").Find(&appointments).Error; err != nil {
		http.Error(w, "Error retrieving appointments", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"appointments": appointments,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

func (h *AppointmentHandler) GetPatientAppointments(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, "patient_id")
}

func (h *AppointmentHandler) GetProfessionalAppointments(w http.ResponseWriter, r *http.Request) {
	h.listAppointments(w, r, "professional_id")
}

// loadParticipant returns the appointment when the caller is its patient
// or professional.
func (h *AppointmentHandler) loadParticipant(w http.ResponseWriter, r *http.Request) (*models.Appointment, uint, bool) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, 0, false
	}

	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return nil, 0, false
	}

	var appointment models.Appointment
	if err := h.db.Preload("Patient").Preload("Professional").First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return nil, 0, false
	}

	if appointment.PatientID != userID && appointment.ProfessionalID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, 0, false
	}
	return &appointment, userID, true
}

func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appointment, _, ok := h.loadParticipant(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "Appointment not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, ErrConflict):
		http.Error(w, "Appointment is no longer in the expected status", http.StatusConflict)
	default:
		http.Error(w, "Error updating appointment", http.StatusInternalServerError)
	}
}

func parseAppointmentID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	vars := mux.Vars(r)
	appointmentID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid appointment ID", http.StatusBadRequest)
		return 0, false
	}
	return uint(appointmentID), true
}

func (h *AppointmentHandler) AcceptAppointment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	appointment, err := Accept(h.db, appointmentID, userID, time.Now())
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	h.notifyPatient(appointment, "Appointment accepted",
		"Your appointment request was accepted. Complete payment within 15 minutes to confirm your booking.")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) DeclineAppointment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	appointment, err := Decline(h.db, appointmentID, userID)
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	h.notifyPatient(appointment, "Appointment declined",
		"Your appointment request was declined. You can book another slot at any time.")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return
	}

	appointment, err := Complete(h.db, appointmentID, userID, time.Now())
	if err != nil {
		writeTransitionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) notifyPatient(appointment *models.Appointment, subject, body string) {
	var patient models.User
	if err := h.db.First(&patient, appointment.PatientID).Error; err != nil {
		return
	}
	notifications.Notify(patient.Email, subject, body)
}

// loadOwnedForEdit fetches the appointment for a professional-side field
// edit and checks ownership plus an allowed-status set.
func (h *AppointmentHandler) loadOwnedForEdit(w http.ResponseWriter, r *http.Request, allowed ...models.AppointmentStatus) *models.Appointment {
	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil
	}
	appointmentID, ok := parseAppointmentID(w, r)
	if !ok {
		return nil
	}

	var appointment models.Appointment
	if err := h.db.First(&appointment, appointmentID).Error; err != nil {
		http.Error(w, "Appointment not found", http.StatusNotFound)
		return nil
	}
	if appointment.ProfessionalID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil
	}

	for _, s := range allowed {
		if appointment.Status == s {
			return &appointment
		}
	}
	http.Error(w, "Appointment status does not allow this edit", http.StatusConflict)
	return nil
}

// UpdateNotes lets the owning professional edit consultation notes on a
// confirmed or completed appointment. Notes edits never touch status,
// schedule or duration.
func (h *AppointmentHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	appointment := h.loadOwnedForEdit(w, r, models.AppointmentConfirmed, models.AppointmentCompleted)
	if appointment == nil {
		return
	}

	var body struct {
		ConsultationNotes string `json:"consultation_notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.Model(appointment).Update("consultation_notes", body.ConsultationNotes).Error; err != nil {
		http.Error(w, "Error updating appointment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}

func (h *AppointmentHandler) UpdateMeetLink(w http.ResponseWriter, r *http.Request) {
	appointment := h.loadOwnedForEdit(w, r, models.AppointmentConfirmed)
	if appointment == nil {
		return
	}

	var body struct {
		MeetLink string `json:"meet_link"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.Model(appointment).Update("meet_link", body.MeetLink).Error; err != nil {
		http.Error(w, "Error updating appointment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(appointment)
}
