package booking

import (
	"strings"
	"time"
)

// Calendar card palette. Color assignment must be stable across renders so
// the same service always gets the same color without storing one.
var cardPalette = []string{
	"#2563eb", // blue
	"#16a34a", // green
	"#d97706", // amber
	"#dc2626", // red
	"#7c3aed", // violet
	"#0891b2", // cyan
	"#db2777", // pink
	"#65a30d", // lime
}

// CalendarEntry is the display-oriented projection of one appointment.
type CalendarEntry struct {
	ID               string    `json:"id"`
	ProfessionalID   string    `json:"id_profissional"`
	PatientID        string    `json:"id_paciente"`
	Title            string    `json:"title"`
	Color            string    `json:"color"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	Status           string    `json:"status"`
	TotalPriceCents  int64     `json:"total_price_cents"`
	TotalDurationMin int       `json:"total_duration_min"`
}

// ToCalendarEntry maps an appointment to its calendar card.
//
// The two totals deliberately age differently: price sums the line-item
// snapshots taken at booking time, duration sums the services' *current*
// catalog estimates, so a catalog duration edit shows up on old cards while
// a price edit does not.
func ToCalendarEntry(d AppointmentDetail) CalendarEntry {
	var price int64
	for _, it := range d.Items {
		price += it.ChargedPriceCents
	}

	duration := 0
	names := make([]string, 0, len(d.Services))
	for _, svc := range d.Services {
		duration += svc.DurationMin
		names = append(names, svc.Name)
	}

	return CalendarEntry{
		ID:               d.ID.String(),
		ProfessionalID:   d.ProfessionalID.String(),
		PatientID:        d.PatientID.String(),
		Title:            cardTitle(names, d.Patient),
		Color:            ServiceColor(firstName(names)),
		StartsAt:         d.StartsAt,
		EndsAt:           d.EndsAt,
		Status:           string(d.Status),
		TotalPriceCents:  price,
		TotalDurationMin: duration,
	}
}

func ToCalendarEntries(details []AppointmentDetail) []CalendarEntry {
	out := make([]CalendarEntry, len(details))
	for i, d := range details {
		out[i] = ToCalendarEntry(d)
	}
	return out
}

// cardTitle joins the service names and appends the patient's first name.
func cardTitle(serviceNames []string, patient *Patient) string {
	title := strings.Join(serviceNames, " + ")
	if patient != nil {
		first, _, _ := strings.Cut(strings.TrimSpace(patient.Name), " ")
		if first != "" {
			if title != "" {
				title += " - "
			}
			title += first
		}
	}
	return title
}

// ServiceColor picks a palette color from the first rune of the service
// name. The first booked service anchors the card, so the same service
// always renders the same color.
func ServiceColor(serviceName string) string {
	runes := []rune(strings.ToUpper(serviceName))
	if len(runes) == 0 {
		return cardPalette[0]
	}
	return cardPalette[int(runes[0])%len(cardPalette)]
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}
