package api

// ErrorResponse is the uniform error body: a structured machine-readable
// reason plus the human-readable detail.
type ErrorResponse struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// ValidateQuoteResponse is the POST /api/v1/quotes/:id/validate body.
type ValidateQuoteResponse struct {
	QuoteID string `json:"quote_id"`
	Valid   bool   `json:"valid"`
}
