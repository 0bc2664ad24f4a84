// Package di provides dependency injection factories for creating application components.
package di

import (
	"fmt"
	"log/slog"

	"candle_tracker/internal/feature/candles/usecase"
	"candle_tracker/internal/platform/config"
	"candle_tracker/internal/platform/externalapi/okx"
	"candle_tracker/internal/platform/externalapi/simulated"
	"candle_tracker/internal/platform/externalapi/twelvedata"
	infrahttp "candle_tracker/internal/platform/http"
	"candle_tracker/internal/shared/ratelimiter"
)

// NewMarket creates the market feed selected by cfg.Provider.
// REST feeds share one rate limiter and one HTTP client. The OKX feed streams
// live candles over WebSocket when cfg.OKX.Stream is set, otherwise it is polled.
func NewMarket(cfg config.FeedConfig, logger *slog.Logger) (usecase.MarketRepository, error) {
	limiter := ratelimiter.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Interval)

	switch cfg.Provider {
	case "twelvedata":
		httpClient := infrahttp.NewHTTPClient(cfg.TwelveData.Timeout)
		return twelvedata.NewTwelveDataMarket(twelvedata.Config{
			APIKey:  cfg.TwelveData.APIKey,
			BaseURL: cfg.TwelveData.BaseURL,
			Timeout: cfg.TwelveData.Timeout,
		}, httpClient, limiter), nil
	case "okx":
		httpClient := infrahttp.NewHTTPClient(cfg.OKX.Timeout)
		okxCfg := okx.Config{
			RESTURL:        cfg.OKX.RESTURL,
			WebSocketURL:   cfg.OKX.WebSocketURL,
			PingInterval:   cfg.OKX.PingInterval,
			ReconnectDelay: cfg.OKX.ReconnectDelay,
		}
		if cfg.OKX.Stream {
			return okx.NewStreamingMarket(okxCfg, httpClient, limiter, logger), nil
		}
		return okx.NewMarket(okxCfg, httpClient, limiter, logger), nil
	case "simulated", "":
		return simulated.NewMarket(simulated.Config{
			Seed:       cfg.Simulated.Seed,
			StartPrice: cfg.Simulated.StartPrice,
			Volatility: cfg.Simulated.Volatility,
		}), nil
	default:
		return nil, fmt.Errorf("unknown feed provider %q", cfg.Provider)
	}
}
