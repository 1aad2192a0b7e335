package relay

import (
	"encoding/json"

	"github.com/yitech/candlerelay/model/candle"
)

// Downstream topics.
const (
	TopicRequestHistory = "request_history"
	TopicHistoryData    = "history_data"
	TopicError          = "error"
)

// Request is an inbound frame from a downstream consumer.
type Request struct {
	Topic    string `json:"topic"`
	Symbol   string `json:"symbol,omitempty"`
	Interval string `json:"interval,omitempty"`
}

type pushMsg struct {
	Topic string        `json:"topic"`
	Data  candle.Candle `json:"data"`
}

type historyMsg struct {
	Topic string              `json:"topic"`
	Data  candle.HistoryBatch `json:"data"`
}

type errorMsg struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

func encodePush(u candle.LiveUpdate) ([]byte, error) {
	return json.Marshal(pushMsg{Topic: u.Topic, Data: u.Candle})
}

func encodeHistory(b candle.HistoryBatch) ([]byte, error) {
	if b == nil {
		b = candle.HistoryBatch{}
	}
	return json.Marshal(historyMsg{Topic: TopicHistoryData, Data: b})
}

func encodeError(msg string) ([]byte, error) {
	return json.Marshal(errorMsg{Topic: TopicError, Message: msg})
}
