package codec

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one market trade from the market_trades channel. The trade id is
// unique per product and is what the candle aggregator de-duplicates on.
// Prices and sizes are decimals; the venue serializes them as strings.
type Trade struct {
	TradeID   string          `json:"trade_id"`
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      string          `json:"side"`
	Time      time.Time       `json:"time"`
}

// MarketTradesEvent is one event object from a market_trades envelope.
type MarketTradesEvent struct {
	Type   string  `json:"type"`
	Trades []Trade `json:"trades"`
}

// TickerUpdate is a single product ticker within a ticker event.
type TickerUpdate struct {
	Type      string          `json:"type"`
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Volume24H decimal.Decimal `json:"volume_24_h"`
	Low24H    decimal.Decimal `json:"low_24_h"`
	High24H   decimal.Decimal `json:"high_24_h"`
}

// TickerEvent is one event object from a ticker or ticker_batch envelope.
type TickerEvent struct {
	Type    string         `json:"type"`
	Tickers []TickerUpdate `json:"tickers"`
}

// Level2Update is a single price-level delta. The connector relays these
// without attempting book reconstruction.
type Level2Update struct {
	Side        string          `json:"side"`
	EventTime   time.Time       `json:"event_time"`
	PriceLevel  decimal.Decimal `json:"price_level"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
}

// Level2Event is one event object from a level2 envelope.
type Level2Event struct {
	Type      string         `json:"type"`
	ProductID string         `json:"product_id"`
	Updates   []Level2Update `json:"updates"`
}

// OrderUpdate is an order state change for the authenticated user.
type OrderUpdate struct {
	OrderID            string          `json:"order_id"`
	ClientOrderID      string          `json:"client_order_id"`
	ProductID          string          `json:"product_id"`
	Status             string          `json:"status"`
	OrderSide          string          `json:"order_side"`
	CumulativeQuantity decimal.Decimal `json:"cumulative_quantity"`
	LeavesQuantity     decimal.Decimal `json:"leaves_quantity"`
	AveragePrice       decimal.Decimal `json:"avg_price"`
	CreationTime       time.Time       `json:"creation_time"`
}

// UserEvent is one event object from a user envelope.
type UserEvent struct {
	Type   string        `json:"type"`
	Orders []OrderUpdate `json:"orders"`
}

// ProductStatus is a product definition from the status channel.
type ProductStatus struct {
	ProductType   string `json:"product_type"`
	ID            string `json:"id"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	DisplayName   string `json:"display_name"`
	Status        string `json:"status"`
}

// StatusEvent is one event object from a status envelope.
type StatusEvent struct {
	Type     string          `json:"type"`
	Products []ProductStatus `json:"products"`
}

// HeartbeatEvent is one event object from a heartbeats envelope.
type HeartbeatEvent struct {
	CurrentTime      string `json:"current_time"`
	HeartbeatCounter uint64 `json:"heartbeat_counter"`
}

// CandleUpdate is a venue-computed candle from the candles channel.
type CandleUpdate struct {
	ProductID string          `json:"product_id"`
	Start     int64           `json:"start,string"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// CandlesEvent is one event object from a candles envelope.
type CandlesEvent struct {
	Type    string         `json:"type"`
	Candles []CandleUpdate `json:"candles"`
}

// FuturesBalanceSummaryEvent is one event object from a
// futures_balance_summary envelope. The balance payload is relayed raw.
type FuturesBalanceSummaryEvent struct {
	Type              string          `json:"type"`
	FCMBalanceSummary json.RawMessage `json:"fcm_balance_summary"`
}

// SubscriptionsEvent acknowledges the server-side subscription state after a
// subscribe or unsubscribe control frame. Keys are channel names, values the
// product ids the connection is now subscribed to.
type SubscriptionsEvent struct {
	Subscriptions map[string][]string `json:"subscriptions"`
}

// UnknownEvents carries the raw payload of an envelope whose channel this
// codec has no model for. Forward-compatible: never an error.
type UnknownEvents struct {
	Channel string
	Raw     json.RawMessage
}
