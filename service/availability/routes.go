package availability

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/mymedic/mymedic-server/cmd/models"
	"github.com/mymedic/mymedic-server/cmd/utils"
	"gorm.io/gorm"
)

type AvailabilityHandler struct {
	db *gorm.DB
}

func NewAvailabilityHandler(db *gorm.DB) *AvailabilityHandler {
	return &AvailabilityHandler{db: db}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/professionals/{professionalId}/availability", utils.AuthMiddleware(h.CreateRule)).Methods("POST")
	router.HandleFunc("/professionals/{professionalId}/availability", h.GetRules).Methods("GET")
	router.HandleFunc("/professionals/{professionalId}/availability/{id}", utils.AuthMiddleware(h.UpdateRule)).Methods("PUT")
	router.HandleFunc("/professionals/{professionalId}/availability/{id}", utils.AuthMiddleware(h.DeleteRule)).Methods("DELETE")
	router.HandleFunc("/professionals/{professionalId}/time-off", utils.AuthMiddleware(h.CreateTimeOff)).Methods("POST")
	router.HandleFunc("/professionals/{professionalId}/time-off", h.GetTimeOff).Methods("GET")
	router.HandleFunc("/professionals/{professionalId}/time-off/{id}", utils.AuthMiddleware(h.DeleteTimeOff)).Methods("DELETE")
	router.HandleFunc("/professionals/{professionalId}/slots", h.GetSlots).Methods("GET")
}

// requireOwner ensures the authenticated caller is the professional the
// route addresses.
func requireOwner(w http.ResponseWriter, r *http.Request) (uint, bool) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return 0, false
	}

	userID, err := utils.GetUserIDFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	if userID != uint(professionalID) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return 0, false
	}
	return uint(professionalID), true
}

func validateRule(rule *models.AvailabilityRule) string {
	if rule.DayOfWeek < 0 || rule.DayOfWeek > 6 {
		return "day_of_week must be between 0 and 6"
	}
	if rule.SlotDurationMins <= 0 {
		return "slot_duration_mins must be greater than zero"
	}
	if rule.BufferMins < 0 {
		return "buffer_mins must not be negative"
	}
	start, err := parseClock(rule.StartTime)
	if err != nil {
		return "start_time must be HH:MM"
	}
	end, err := parseClock(rule.EndTime)
	if err != nil {
		return "end_time must be HH:MM"
	}
	if start >= end {
		return "end_time must be after start_time"
	}
	if end-start < rule.SlotDurationMins {
		return "window too short for a single slot"
	}
	return ""
}

func (h *AvailabilityHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var rule models.AvailabilityRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if msg := validateRule(&rule); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	rule.ProfessionalID = professionalID
	if err := h.db.Create(&rule).Error; err != nil {
		http.Error(w, "Error creating availability rule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

func (h *AvailabilityHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return
	}

	var rules []models.AvailabilityRule
	if err := h.db.Where("professional_id = ?", professionalID).
		Order("day_of_week, start_time").Find(&rules).Error; err != nil {
		http.Error(w, "Error retrieving availability rules", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rules)
}

func (h *AvailabilityHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	ruleID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid rule ID", http.StatusBadRequest)
		return
	}

	var updateData models.AvailabilityRule
	if err := json.NewDecoder(r.Body).Decode(&updateData); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if msg := validateRule(&updateData); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	var rule models.AvailabilityRule
	if err := h.db.Where("id = ? AND professional_id = ?", ruleID, professionalID).First(&rule).Error; err != nil {
		http.Error(w, "Availability rule not found", http.StatusNotFound)
		return
	}

	rule.DayOfWeek = updateData.DayOfWeek
	rule.StartTime = updateData.StartTime
	rule.EndTime = updateData.EndTime
	rule.SlotDurationMins = updateData.SlotDurationMins
	rule.BufferMins = updateData.BufferMins

	if err := h.db.Save(&rule).Error; err != nil {
		http.Error(w, "Error updating availability rule", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rule)
}

func (h *AvailabilityHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	ruleID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid rule ID", http.StatusBadRequest)
		return
	}

	// Existing appointments keep their frozen duration; deleting a rule
	// only stops future slot generation.
	result := h.db.Where("id = ? AND professional_id = ?", ruleID, professionalID).Delete(&models.AvailabilityRule{})
	if result.Error != nil {
		http.Error(w, "Error deleting availability rule", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Availability rule not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Availability rule deleted successfully",
	})
}

func (h *AvailabilityHandler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var block models.TimeOffBlock
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := time.Parse("2006-01-02", block.BlockedDate); err != nil {
		http.Error(w, "blocked_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	// Either both bounds or neither; a half-open range is malformed.
	if (block.StartTime == nil) != (block.EndTime == nil) {
		http.Error(w, "start_time and end_time must be set together", http.StatusBadRequest)
		return
	}
	if !block.FullDay() {
		start, err := parseClock(*block.StartTime)
		if err != nil {
			http.Error(w, "start_time must be HH:MM", http.StatusBadRequest)
			return
		}
		end, err := parseClock(*block.EndTime)
		if err != nil {
			http.Error(w, "end_time must be HH:MM", http.StatusBadRequest)
			return
		}
		if start >= end {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}
	}

	block.ProfessionalID = professionalID
	if err := h.db.Create(&block).Error; err != nil {
		http.Error(w, "Error creating time off block", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(block)
}

func (h *AvailabilityHandler) GetTimeOff(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return
	}

	var blocks []models.TimeOffBlock
	if err := h.db.Where("professional_id = ?", professionalID).
		Order("blocked_date").Find(&blocks).Error; err != nil {
		http.Error(w, "Error retrieving time off blocks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(blocks)
}

func (h *AvailabilityHandler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	professionalID, ok := requireOwner(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	blockID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid time off ID", http.StatusBadRequest)
		return
	}

	result := h.db.Where("id = ? AND professional_id = ?", blockID, professionalID).Delete(&models.TimeOffBlock{})
	if result.Error != nil {
		http.Error(w, "Error deleting time off block", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		http.Error(w, "Time off block not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Time off block deleted successfully",
	})
}

// GetSlots returns the bookable candidates for one date, derived from
// the professional's rules minus time off and occupied appointments.
func (h *AvailabilityHandler) GetSlots(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	professionalID, err := strconv.ParseUint(vars["professionalId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid professional ID", http.StatusBadRequest)
		return
	}

	dateStr := r.URL.Query().Get("date")
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "Invalid date format. Use YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	slots, err := h.SlotsForDate(uint(professionalID), date, time.Now())
	if err == gorm.ErrRecordNotFound {
		http.Error(w, "Professional not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error generating slots", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"date":  dateStr,
		"slots": slots,
	})
}

// SlotsForDate loads everything the generator needs and runs it. Shared
// with the booking path so a booking is validated against exactly the
// slots a patient could see.
func (h *AvailabilityHandler) SlotsForDate(professionalID uint, date time.Time, now time.Time) ([]Slot, error) {
	var profile models.Professional
	if err := h.db.Where("user_id = ?", professionalID).First(&profile).Error; err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		loc = time.UTC
	}

	var rules []models.AvailabilityRule
	if err := h.db.Where("professional_id = ?", professionalID).Find(&rules).Error; err != nil {
		return nil, err
	}

	var blocks []models.TimeOffBlock
	if err := h.db.Where("professional_id = ? AND blocked_date = ?", professionalID, date.Format("2006-01-02")).
		Find(&blocks).Error; err != nil {
		return nil, err
	}

	// Window padded by a day on each side so timezone offsets cannot
	// hide an overlapping appointment.
	year, month, day := date.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, loc)
	var booked []models.Appointment
	if err := h.db.Where("professional_id = ? AND status IN ? AND scheduled_at >= ? AND scheduled_at < ?",
		professionalID, models.ActiveAppointmentStatuses,
		dayStart.Add(-24*time.Hour), dayStart.Add(48*time.Hour)).
		Find(&booked).Error; err != nil {
		return nil, err
	}

	return GenerateSlots(rules, blocks, booked, dayStart, loc, now), nil
}
