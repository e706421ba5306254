package types

// TriggerRequest is what the door device posts when its debouncer fires.
// Every field is informational.
type TriggerRequest struct {
	Action    string  `json:"action,omitempty"`
	Device    string  `json:"device,omitempty"`
	Trigger   string  `json:"trigger,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"` // device clock, seconds
}

const (
	TriggerAccepted = "accepted"
	TriggerBusy     = "busy"
)

type TriggerResponse struct {
	Status     string `json:"status"` // "accepted" | "busy"
	Message    string `json:"message"`
	ServerTime string `json:"server_time"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	CaptureBusy bool   `json:"capture_busy"`
	Pending     int    `json:"pending_commands"`
	ServerTime  string `json:"server_time"`
}
