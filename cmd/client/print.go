package main

import (
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yitech/candlerelay/model/candle"
)

// printer logs relay frames as one line per candle.
type printer struct {
	log  *slog.Logger
	tail int // history rows to print, newest last
}

func (p *printer) handle(frame *structpb.Struct) {
	topic := frame.GetFields()["topic"].GetStringValue()
	switch {
	case topic == "history_data":
		rows, err := decodeHistory(frame)
		if err != nil {
			p.log.Warn("bad history frame", "error", err)
			return
		}
		p.log.Info("history", "candles", len(rows))
		if p.tail > 0 && len(rows) > p.tail {
			rows = rows[len(rows)-p.tail:]
		}
		for _, c := range rows {
			p.printCandle("history", c)
		}
	case topic == "error":
		p.log.Error("relay error", "message", frame.GetFields()["message"].GetStringValue())
	case candle.IsCandleTopic(topic):
		c, err := decodeCandle(frame.GetFields()["data"])
		if err != nil {
			p.log.Warn("bad live frame", "topic", topic, "error", err)
			return
		}
		p.printCandle(topic, c)
	default:
		p.log.Debug("ignored frame", "topic", topic)
	}
}

func (p *printer) printCandle(source string, c candle.Candle) {
	p.log.Info("candle",
		"source", source,
		"time", time.Unix(c.Time, 0).UTC().Format(time.DateTime),
		"open", c.Open,
		"high", c.High,
		"low", c.Low,
		"close", c.Close,
	)
}

func decodeHistory(frame *structpb.Struct) ([]candle.Candle, error) {
	raw, err := frame.GetFields()["data"].MarshalJSON()
	if err != nil {
		return nil, err
	}
	var rows []candle.Candle
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func decodeCandle(v *structpb.Value) (candle.Candle, error) {
	var c candle.Candle
	raw, err := v.MarshalJSON()
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(raw, &c)
	return c, err
}
