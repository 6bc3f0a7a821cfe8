package bitmex

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	topicOrderBook10 = "orderBook10"
	topicTrade       = "trade"

	actionPartial = "partial"

	venueSideBuy  = "Buy"
	venueSideSell = "Sell"
)

type subscribeRequest struct {
	Op   string `json:"op"`
	Args string `json:"args"`
}

// inboundFrame covers every shape the realtime endpoint sends.
type inboundFrame struct {
	Table     string          `json:"table"`
	Action    string          `json:"action"`
	Keys      []string        `json:"keys"`
	Data      json.RawMessage `json:"data"`
	Error     json.RawMessage `json:"error"`
	Status    int             `json:"status"`
	Subscribe string          `json:"subscribe"`
	Success   *bool           `json:"success"`
	Info      string          `json:"info"`
	Version   string          `json:"version"`
}

func (f inboundFrame) errorText() string {
	raw := bytes.TrimSpace(f.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// wireLevel is a [price, size] pair.
type wireLevel [2]decimal.Decimal

type bookRecord struct {
	Symbol    string      `json:"symbol"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

type tradeRecord struct {
	Timestamp  time.Time       `json:"timestamp"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	TrdMatchID string          `json:"trdMatchID"`
}

type orderRequest struct {
	Symbol      string       `json:"symbol"`
	Side        string       `json:"side"`
	OrderQty    json.Number  `json:"orderQty"`
	Price       *json.Number `json:"price,omitempty"`
	OrdType     string       `json:"ordType"`
	TimeInForce string       `json:"timeInForce"`
	ClOrdID     string       `json:"clOrdID,omitempty"`
}

type cancelRequest struct {
	OrderID string `json:"orderID,omitempty"`
	ClOrdID string `json:"clOrdID,omitempty"`
}

type orderRecord struct {
	OrderID          string           `json:"orderID"`
	ClOrdID          string           `json:"clOrdID"`
	Symbol           string           `json:"symbol"`
	Side             string           `json:"side"`
	OrderQty         decimal.Decimal  `json:"orderQty"`
	Price            decimal.Decimal  `json:"price"`
	LeavesQty        decimal.Decimal  `json:"leavesQty"`
	CumQty           decimal.Decimal  `json:"cumQty"`
	LastPx           *decimal.Decimal `json:"lastPx"`
	LastQty          *decimal.Decimal `json:"lastQty"`
	OrdType          string           `json:"ordType"`
	OrdStatus        string           `json:"ordStatus"`
	OrdRejReason     string           `json:"ordRejReason"`
	WorkingIndicator bool             `json:"workingIndicator"`
	Text             string           `json:"text"`
	Error            string           `json:"error"`
	TransactTime     time.Time        `json:"transactTime"`
	Timestamp        time.Time        `json:"timestamp"`
}

type venueError struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

// decodeOrderRecords accepts either a single record or an array of them.
func decodeOrderRecords(body []byte) ([]orderRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var records []orderRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode order records: %w", err)
		}
		return records, nil
	case '{':
		var record orderRecord
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return nil, fmt.Errorf("decode order record: %w", err)
		}
		return []orderRecord{record}, nil
	default:
		return nil, fmt.Errorf("decode order response: unexpected body %q", truncate(string(trimmed), 64))
	}
}

func decimalNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func subscriptionArg(topic, filter string) string {
	topic = strings.TrimSpace(topic)
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return topic
	}
	return topic + ":" + filter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
