// Package publisher delivers processed events outside the engine.
package publisher

import (
	"github.com/yanun0323/logs"

	"executor/internal/codec"
	"executor/internal/schema"
)

// Publisher accepts events fire-and-forget.
type Publisher interface {
	Send(event schema.Event)
}

// Multi sends every event to each publisher in order.
type Multi []Publisher

func (m Multi) Send(event schema.Event) {
	for _, p := range m {
		p.Send(event)
	}
}

// Log writes every event to the log in its encoded form.
type Log struct{}

func (Log) Send(event schema.Event) {
	data, err := codec.EncodeEvent(event)
	if err != nil {
		logs.Errorf("publish %T, err: %+v", event, err)
		return
	}
	logs.Infof("event %s", data)
}

// Key returns the aggregate id an event is partitioned by.
func Key(event schema.Event) string {
	switch e := event.(type) {
	case schema.TradeEvent:
		if e.Event == nil {
			return string(e.TraderID)
		}
		return string(e.Event.OrderRef())
	case schema.OrderEvent:
		return string(e.OrderRef())
	case schema.AccountStateEvent:
		return string(e.AccountID)
	default:
		return ""
	}
}
