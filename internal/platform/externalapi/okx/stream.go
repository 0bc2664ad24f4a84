package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
	"candle_tracker/internal/shared/ratelimiter"
)

// ErrSubscribe is returned on the error channel when OKX rejects a subscription.
var ErrSubscribe = errors.New("okx: subscribe rejected")

// StreamingMarket adds a WebSocket candle stream to Market.
// Subscriptions consume the stream instead of polling Snapshot.
type StreamingMarket struct {
	*Market
	dialer *websocket.Dialer
}

var _ usecase.CandleStreamer = (*StreamingMarket)(nil)

// NewStreamingMarket creates an OKX market that also streams closed candles.
func NewStreamingMarket(cfg Config, client *http.Client, limiter ratelimiter.RateLimiterInterface, logger *slog.Logger) *StreamingMarket {
	return &StreamingMarket{
		Market: NewMarket(cfg, client, limiter, logger),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsFrame struct {
	Event string     `json:"event"`
	Code  string     `json:"code"`
	Msg   string     `json:"msg"`
	Arg   wsArg      `json:"arg"`
	Data  [][]string `json:"data"`
}

// StreamCandles subscribes to the candle channel and emits confirmed candles only.
// Dropped connections are redialed after ReconnectDelay until ctx ends.
// A rejected subscription is sent on the error channel and ends the stream.
// Both channels are closed when the stream ends.
func (s *StreamingMarket) StreamCandles(ctx context.Context, symbol string, tf timeframe.TimeFrame) (<-chan entity.Candle, <-chan error) {
	candles := make(chan entity.Candle)
	errs := make(chan error, 1)

	go func() {
		defer close(candles)
		defer close(errs)

		bar, err := barFor(tf)
		if err != nil {
			errs <- err
			return
		}
		arg := wsArg{Channel: "candle" + bar, InstID: symbol}
		log := s.logger.With("channel", arg.Channel, "inst_id", symbol)

		for {
			err := s.session(ctx, arg, tf, candles)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrSubscribe) {
				errs <- err
				return
			}
			log.Warn("okx stream disconnected, reconnecting", "error", err, "delay", s.cfg.ReconnectDelay)

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}
		}
	}()

	return candles, errs
}

// session runs one connection until it fails or ctx ends.
func (s *StreamingMarket) session(ctx context.Context, arg wsArg, tf timeframe.TimeFrame, out chan<- entity.Candle) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	sub := map[string]any{"op": "subscribe", "args": []wsArg{arg}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// keepalive ping; closing the connection also unblocks ReadMessage when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if string(msg) == "pong" {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Debug("okx stream: skipping unparsable frame", "error", err)
			continue
		}
		if frame.Event == "error" {
			return fmt.Errorf("%w: code=%s msg=%s", ErrSubscribe, frame.Code, frame.Msg)
		}
		if frame.Arg.Channel != arg.Channel || len(frame.Data) == 0 {
			continue
		}

		// several candles can arrive in one frame
		for _, row := range frame.Data {
			c, confirmed, err := parseRow(arg.InstID, tf, row)
			if err != nil {
				s.logger.Warn("okx stream: invalid candle row", "row", row, "error", err)
				continue
			}
			if !confirmed {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
