package model

// ErrorResponse is the consistent JSON structure for all API error responses.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	IsExpired bool   `json:"isExpired,omitempty"`
}
