package main

const (
	appointmentIDPrefix = "gcal-"
	appointmentSource   = "google-calendar"
	defaultReminderDays = 1
	unknownValue        = "Unknown"
	unknownService      = "Unknown Service"
)

// AppointmentRecord is the structured form of one calendar event. The engine
// never mutates a record after publishing it.
type AppointmentRecord struct {
	ID              string `json:"id"`
	ClientName      string `json:"clientName"`
	PetName         string `json:"petName"`
	PetType         string `json:"petType"`
	ClientPhone     string `json:"clientPhone"`
	AppointmentDate string `json:"appointmentDate"`
	ServiceType     string `json:"serviceType"`
	ReminderDays    int    `json:"reminderDays"`
	ReminderSent    bool   `json:"reminderSent"`
	Source          string `json:"source"`
	SourceEventID   string `json:"sourceEventId"`
	CreatedAt       string `json:"createdAt"`
}
