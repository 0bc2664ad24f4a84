package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
	"candle_tracker/internal/platform/externalapi/twelvedata/dto"
	"candle_tracker/internal/shared/ratelimiter"
)

const (
	dateTimeLayout = "2006-01-02 15:04:05"
	dateLayout     = "2006-01-02"
	// maxOutputSize は1リクエストで取得できる上限本数です。
	maxOutputSize = 5000
)

// ErrNoData は Snapshot で1本もデータが返らなかった場合に返されます。
var ErrNoData = errors.New("twelvedata: no data")

// intervals は時間足を Twelve Data の interval パラメータに対応付けます。
var intervals = map[timeframe.TimeFrame]string{
	timeframe.Minute:         "1min",
	timeframe.FiveMinutes:    "5min",
	timeframe.FifteenMinutes: "15min",
	timeframe.ThirtyMinutes:  "30min",
	timeframe.Hour:           "1h",
	timeframe.FourHours:      "4h",
	timeframe.Day:            "1day",
	timeframe.Week:           "1week",
	timeframe.Month:          "1month",
}

// TwelveDataMarket はTwelve Data外部APIからローソク足を取得するMarketRepository実装です。
type TwelveDataMarket struct {
	cfg     Config
	client  *http.Client
	limiter ratelimiter.RateLimiterInterface
}

// TwelveDataMarketがMarketRepositoryを実装していることをコンパイル時に検証します。
var _ usecase.MarketRepository = (*TwelveDataMarket)(nil)

// NewTwelveDataMarket は指定された設定とHTTPクライアントでTwelveDataMarketの新しいインスタンスを生成します。
// limiter が nil の場合はレート制限を行いません。
func NewTwelveDataMarket(cfg Config, client *http.Client, limiter ratelimiter.RateLimiterInterface) *TwelveDataMarket {
	return &TwelveDataMarket{cfg: cfg, client: client, limiter: limiter}
}

// FetchRange は [from, to] のローソク足をタイムスタンプ昇順で返します。
func (t *TwelveDataMarket) FetchRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	q := url.Values{}
	q.Set("start_date", from.UTC().Format(dateTimeLayout))
	q.Set("end_date", to.UTC().Format(dateTimeLayout))
	q.Set("order", "ASC")
	q.Set("outputsize", strconv.Itoa(maxOutputSize))

	candles, err := t.timeSeries(ctx, symbol, tf, q)
	if err != nil {
		return nil, err
	}

	// end_date は排他的に扱われるため、範囲外の要素を除いて昇順に揃える
	candles = slices.DeleteFunc(candles, func(c entity.Candle) bool {
		return c.Timestamp.Before(from) || c.Timestamp.After(to)
	})
	slices.SortFunc(candles, func(a, b entity.Candle) int { return a.Timestamp.Compare(b.Timestamp) })
	return candles, nil
}

// Snapshot は最新のローソク足（形成中を含む）を1本返します。
// 提供元がまだ bucket のバーを返していない場合は直前のバーが返ります。
func (t *TwelveDataMarket) Snapshot(ctx context.Context, symbol string, tf timeframe.TimeFrame, bucket time.Time) (entity.Candle, error) {
	q := url.Values{}
	q.Set("outputsize", "1")

	candles, err := t.timeSeries(ctx, symbol, tf, q)
	if err != nil {
		return entity.Candle{}, err
	}
	if len(candles) == 0 {
		return entity.Candle{}, fmt.Errorf("%w: %s %s at %s", ErrNoData, symbol, tf, bucket.Format(time.RFC3339))
	}
	return candles[len(candles)-1], nil
}

// timeSeries は time_series エンドポイントを呼び出し、エンティティに変換します。
func (t *TwelveDataMarket) timeSeries(ctx context.Context, symbol string, tf timeframe.TimeFrame, q url.Values) ([]entity.Candle, error) {
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("%w: %v", timeframe.ErrUnknownTimeFrame, tf)
	}
	if t.limiter != nil {
		if err := t.limiter.WaitIfNeeded(ctx); err != nil {
			return nil, err
		}
	}

	// クエリパラメータを追加
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("timezone", "UTC")
	q.Set("apikey", t.cfg.APIKey)

	// URLを生成
	u := fmt.Sprintf("%s/time_series?%s", strings.TrimRight(t.cfg.BaseURL, "/"), q.Encode())

	// リクエストオブジェクトを作成
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	// リクエストを実行
	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("twelvedata http %d", res.StatusCode)
	}

	// JSONレスポンスをDTOにデコード
	var body dto.TimeSeriesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Status == "error" {
		// 指定期間にデータがない場合もエラーとして返されるため、空として扱う
		if body.Code == http.StatusBadRequest && strings.Contains(body.Message, "No data is available") {
			return []entity.Candle{}, nil
		}
		return nil, fmt.Errorf("twelvedata: %s", body.Message)
	}

	candles := make([]entity.Candle, 0, len(body.Values))
	for _, v := range body.Values {
		c, err := toEntity(symbol, tf, v)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// toEntity は1本分のDTOをドメインエンティティに変換します。
func toEntity(symbol string, tf timeframe.TimeFrame, v dto.OHLCVValue) (entity.Candle, error) {
	// タイムスタンプをパース
	tm, err := time.Parse(dateTimeLayout, v.Datetime)
	if err != nil {
		tm, err = time.Parse(dateLayout, v.Datetime)
		if err != nil {
			return entity.Candle{}, fmt.Errorf("parse time %q: %w", v.Datetime, err)
		}
	}

	// 始値をパース
	o, err := strconv.ParseFloat(v.Open, 64)
	if err != nil {
		return entity.Candle{}, fmt.Errorf("parse open %q: %w", v.Open, err)
	}
	// 高値をパース
	h, err := strconv.ParseFloat(v.High, 64)
	if err != nil {
		return entity.Candle{}, fmt.Errorf("parse high %q: %w", v.High, err)
	}
	// 安値をパース
	l, err := strconv.ParseFloat(v.Low, 64)
	if err != nil {
		return entity.Candle{}, fmt.Errorf("parse low %q: %w", v.Low, err)
	}
	// 終値をパース
	c, err := strconv.ParseFloat(v.Close, 64)
	if err != nil {
		return entity.Candle{}, fmt.Errorf("parse close %q: %w", v.Close, err)
	}

	// 出来高は為替などでは返されない
	var vol float64
	if v.Volume != "" {
		vol, err = strconv.ParseFloat(v.Volume, 64)
		if err != nil {
			return entity.Candle{}, fmt.Errorf("parse volume %q: %w", v.Volume, err)
		}
	}

	// バケットの先頭に揃えてドメインエンティティに変換
	return entity.NewCandle(symbol, timeframe.BucketStart(tm, tf), o, h, l, c, vol, tf)
}
