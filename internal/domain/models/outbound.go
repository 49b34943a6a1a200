package models

// Notification is the payload posted to the report webhook.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	// Report is attached when the notification carries a stock report.
	Report *StockReport `json:"report,omitempty"`
}
