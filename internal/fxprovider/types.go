package fxprovider

import "encoding/json"

// ProviderConfig holds the resolved connection settings for the external FX
// rate provider. Credentials come from the secrets resolver; a single Client
// instance serves any config.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	// Source is the label stamped onto every persisted sample.
	Source string `json:"source"`
}

// latestResponse mirrors the provider's GET /latest payload. Rates are
// decoded as json.Number so values go straight into decimals without passing
// through float64.
type latestResponse struct {
	Base  string                 `json:"base"`
	Rates map[string]json.Number `json:"rates"`
	Date  string                 `json:"date"`
}

type providerErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
