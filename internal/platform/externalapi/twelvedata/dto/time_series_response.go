// Package dto defines data transfer objects for the Twelve Data API responses.
package dto

// TimeSeriesResponse represents the JSON response from the Twelve Data time_series endpoint.
type TimeSeriesResponse struct {
	Status  string       `json:"status"`
	Code    int          `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
	Meta    Meta         `json:"meta"`
	Values  []OHLCVValue `json:"values"`
}

// Meta describes the returned series.
type Meta struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Timezone string `json:"exchange_timezone"`
}

// OHLCVValue is one bar. Numbers are encoded as strings; volume is absent for forex pairs.
type OHLCVValue struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume,omitempty"`
}
