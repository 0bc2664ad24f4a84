// Package okx provides market data from the OKX public REST and WebSocket APIs.
package okx

import "time"

// Config holds configuration for the OKX client.
type Config struct {
	RESTURL        string        // e.g. "https://www.okx.com"
	WebSocketURL   string        // business endpoint, e.g. "wss://ws.okx.com:8443/ws/v5/business"
	PingInterval   time.Duration // OKX drops idle connections after 30s
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RESTURL == "" {
		c.RESTURL = "https://www.okx.com"
	}
	if c.WebSocketURL == "" {
		c.WebSocketURL = "wss://ws.okx.com:8443/ws/v5/business"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	return c
}
