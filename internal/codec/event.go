package codec

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// envelope is the persisted and published form of an event.
type envelope struct {
	Version uint16          `json:"v"`
	Type    string          `json:"type"`
	Trader  schema.TraderID `json:"trader,omitempty"`
	Event   json.RawMessage `json:"event"`
}

var api = sonic.ConfigStd

// EncodeEvent serializes an event with its type tag. A TradeEvent is encoded
// as its wrapped order event plus the trader id.
func EncodeEvent(event schema.Event) ([]byte, error) {
	if event == nil {
		return nil, exception.ErrNilInstance
	}
	env := envelope{Version: schema.SchemaVersion}
	if trade, ok := event.(schema.TradeEvent); ok {
		if trade.Event == nil {
			return nil, fmt.Errorf("%w: trade event for %s carries no event", exception.ErrSerialization, trade.TraderID)
		}
		env.Trader = trade.TraderID
		event = trade.Event
	}
	env.Type = event.Type().String()

	body, err := api.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s, err: %w", exception.ErrSerialization, env.Type, err)
	}
	env.Event = body
	return api.Marshal(env)
}

// DecodeEvent parses data produced by EncodeEvent.
func DecodeEvent(data []byte) (schema.Event, error) {
	var env envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decode envelope, err: %w", exception.ErrSerialization, err)
	}
	if env.Version != schema.SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d", exception.ErrSerialization, env.Version)
	}
	typ, ok := schema.ParseEventType(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown event type %q", exception.ErrSerialization, env.Type)
	}

	event, err := decodeBody(typ, env.Event)
	if err != nil {
		return nil, err
	}
	if env.Trader != "" {
		oe, ok := event.(schema.OrderEvent)
		if !ok {
			return nil, fmt.Errorf("%w: trader set on %s", exception.ErrSerialization, typ)
		}
		return schema.TradeEvent{TraderID: env.Trader, Event: oe}, nil
	}
	return event, nil
}

func decodeBody(typ schema.EventType, body []byte) (schema.Event, error) {
	switch typ {
	case schema.EventOrderInitialized:
		return decodeAs[schema.OrderInitialized](body)
	case schema.EventOrderSubmitted:
		return decodeAs[schema.OrderSubmitted](body)
	case schema.EventOrderAccepted:
		return decodeAs[schema.OrderAccepted](body)
	case schema.EventOrderRejected:
		return decodeAs[schema.OrderRejected](body)
	case schema.EventOrderWorking:
		return decodeAs[schema.OrderWorking](body)
	case schema.EventOrderModified:
		return decodeAs[schema.OrderModified](body)
	case schema.EventOrderCancelReject:
		return decodeAs[schema.OrderCancelReject](body)
	case schema.EventOrderCancelled:
		return decodeAs[schema.OrderCancelled](body)
	case schema.EventOrderExpired:
		return decodeAs[schema.OrderExpired](body)
	case schema.EventOrderPartiallyFilled:
		return decodeAs[schema.OrderPartiallyFilled](body)
	case schema.EventOrderFilled:
		return decodeAs[schema.OrderFilled](body)
	case schema.EventAccountState:
		return decodeAs[schema.AccountStateEvent](body)
	default:
		return nil, fmt.Errorf("%w: %s has no body codec", exception.ErrSerialization, typ)
	}
}

func decodeAs[T schema.Event](body []byte) (schema.Event, error) {
	var v T
	if err := api.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: decode %s, err: %w", exception.ErrSerialization, v.Type(), err)
	}
	return v, nil
}

// Peek returns the event type of an encoded event without decoding its body.
func Peek(data []byte) (schema.EventType, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := api.Unmarshal(data, &env); err != nil {
		return schema.EventUnknown, fmt.Errorf("%w: peek envelope, err: %w", exception.ErrSerialization, err)
	}
	typ, ok := schema.ParseEventType(env.Type)
	if !ok {
		return schema.EventUnknown, fmt.Errorf("%w: unknown event type %q", exception.ErrSerialization, env.Type)
	}
	return typ, nil
}
