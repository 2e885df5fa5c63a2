package appointment

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mymedic/mymedic-server/cmd/models"
)

// BuildICS renders a VCALENDAR invite (or cancellation) for an
// appointment from its scheduled start, duration and optional meet
// link. Cancellations reuse the appointment ID as UID so calendar
// clients match the original event.
func BuildICS(appointment *models.Appointment, title string, cancel bool) string {
	start := appointment.ScheduledAt
	end := appointment.EndsAt()

	uid := fmt.Sprintf("%d", appointment.ID)
	if !cancel {
		uid = uuid.New().String()
	}

	method := "PUBLISH"
	summary := title
	if cancel {
		method = "CANCEL"
		summary = "[CANCELLED] " + title
	}

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//MyMedic//EN",
		"METHOD:" + method,
		"BEGIN:VEVENT",
		"DTSTART:" + start.UTC().Format("20060102T150405Z"),
		"DTEND:" + end.UTC().Format("20060102T150405Z"),
		"SUMMARY:" + summary,
		"DESCRIPTION:MyMedic Consultation",
	}
	if cancel {
		lines = append(lines, "STATUS:CANCELLED")
	}
	if appointment.MeetLink != "" {
		lines = append(lines, "URL:"+appointment.MeetLink, "LOCATION:"+appointment.MeetLink)
	}
	lines = append(lines,
		"UID:"+uid+"@mymedic",
		"SEQUENCE:1",
		"END:VEVENT",
		"END:VCALENDAR",
	)
	return strings.Join(lines, "\r\n")
}

// DownloadICS serves the invite for a confirmed or awaiting-payment
// appointment, or a cancellation file for a cancelled one.
func (h *AppointmentHandler) DownloadICS(w http.ResponseWriter, r *http.Request) {
	appointment, userID, ok := h.loadParticipant(w, r)
	if !ok {
		return
	}

	cancel := r.URL.Query().Get("cancel") == "true" || appointment.Status == models.AppointmentCancelled

	counterpart := appointment.Professional
	if userID == appointment.ProfessionalID {
		counterpart = appointment.Patient
	}
	name := "MyMedic user"
	if counterpart != nil {
		name = counterpart.FullName
	}

	content := BuildICS(appointment, "Consultation with "+name, cancel)

	filename := "mymedic-appointment.ics"
	if cancel {
		filename = "mymedic-cancellation.ics"
	}

	w.Header().Set("Content-Type", "text/calendar;charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Write([]byte(content))
}
