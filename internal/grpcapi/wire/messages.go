// Package wire implements the market-data and executor messages in the
// protobuf binary format, plus a gRPC codec for them. The schemas live in
// proto/md/marketdata.proto and proto/exec/executor.proto.
package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every type in this package.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

// MarketID is md.MarketId.
type MarketID struct {
	Exchange string
	Symbol   string
}

func (m *MarketID) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.Exchange)
	return appendString(b, 2, m.Symbol)
}

func (m *MarketID) UnmarshalWire(b []byte) error {
	*m = MarketID{}
	return decode("MarketId", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case 1:
			s, n, err := consumeString(typ, b)
			m.Exchange = s
			return n, true, err
		case 2:
			s, n, err := consumeString(typ, b)
			m.Symbol = s
			return n, true, err
		}
		return 0, false, nil
	})
}

// Level is md.Level.
type Level struct {
	Price float64
	Qty   float64
}

func (l *Level) AppendWire(b []byte) []byte {
	b = appendDouble(b, 1, l.Price)
	return appendDouble(b, 2, l.Qty)
}

func (l *Level) UnmarshalWire(b []byte) error {
	*l = Level{}
	return decode("Level", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case 1:
			v, n, err := consumeDouble(typ, b)
			l.Price = v
			return n, true, err
		case 2:
			v, n, err := consumeDouble(typ, b)
			l.Qty = v
			return n, true, err
		}
		return 0, false, nil
	})
}

// OrderBookDelta is md.OrderBookDelta.
type OrderBookDelta struct {
	Market     *MarketID
	Sequence   uint64
	TsNs       uint64
	Bids       []Level
	Asks       []Level
	IsSnapshot bool
}

func (d *OrderBookDelta) AppendWire(b []byte) []byte {
	if d.Market != nil {
		b = appendMessage(b, 1, d.Market.AppendWire(nil))
	}
	b = appendUvarint(b, 2, d.Sequence)
	b = appendUvarint(b, 3, d.TsNs)
	for i := range d.Bids {
		b = appendMessage(b, 4, d.Bids[i].AppendWire(nil))
	}
	for i := range d.Asks {
		b = appendMessage(b, 5, d.Asks[i].AppendWire(nil))
	}
	return appendBool(b, 6, d.IsSnapshot)
}

func (d *OrderBookDelta) UnmarshalWire(b []byte) error {
	*d = OrderBookDelta{}
	return decode("OrderBookDelta", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case 1:
			raw, n, err := consumeBytes(typ, b)
			if err != nil || n < 0 {
				return n, true, err
			}
			d.Market = &MarketID{}
			return n, true, d.Market.UnmarshalWire(raw)
		case 2:
			v, n, err := consumeUvarint(typ, b)
			d.Sequence = v
			return n, true, err
		case 3:
			v, n, err := consumeUvarint(typ, b)
			d.TsNs = v
			return n, true, err
		case 4, 5:
			raw, n, err := consumeBytes(typ, b)
			if err != nil || n < 0 {
				return n, true, err
			}
			var lv Level
			if err := lv.UnmarshalWire(raw); err != nil {
				return n, true, err
			}
			if num == 4 {
				d.Bids = append(d.Bids, lv)
			} else {
				d.Asks = append(d.Asks, lv)
			}
			return n, true, nil
		case 6:
			v, n, err := consumeUvarint(typ, b)
			d.IsSnapshot = v != 0
			return n, true, err
		}
		return 0, false, nil
	})
}

// Ack is md.Ack, the single reply to a PushDeltas stream.
type Ack struct {
	Ok               bool
	Accepted         uint64
	Rejected         uint64
	AwaitingSnapshot uint64
	DuplicateOrOld   uint64
	SequenceGap      uint64
	Resync           []MarketID
}

func (a *Ack) AppendWire(b []byte) []byte {
	b = appendBool(b, 1, a.Ok)
	b = appendUvarint(b, 2, a.Accepted)
	b = appendUvarint(b, 3, a.Rejected)
	b = appendUvarint(b, 4, a.AwaitingSnapshot)
	b = appendUvarint(b, 5, a.DuplicateOrOld)
	b = appendUvarint(b, 6, a.SequenceGap)
	for i := range a.Resync {
		b = appendMessage(b, 7, a.Resync[i].AppendWire(nil))
	}
	return b
}

func (a *Ack) UnmarshalWire(b []byte) error {
	*a = Ack{}
	return decode("Ack", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		var dst *uint64
		switch num {
		case 1:
			v, n, err := consumeUvarint(typ, b)
			a.Ok = v != 0
			return n, true, err
		case 2:
			dst = &a.Accepted
		case 3:
			dst = &a.Rejected
		case 4:
			dst = &a.AwaitingSnapshot
		case 5:
			dst = &a.DuplicateOrOld
		case 6:
			dst = &a.SequenceGap
		case 7:
			raw, n, err := consumeBytes(typ, b)
			if err != nil || n < 0 {
				return n, true, err
			}
			var m MarketID
			if err := m.UnmarshalWire(raw); err != nil {
				return n, true, err
			}
			a.Resync = append(a.Resync, m)
			return n, true, nil
		default:
			return 0, false, nil
		}
		v, n, err := consumeUvarint(typ, b)
		*dst = v
		return n, true, err
	})
}

// Side is exec.Side.
type Side int32

const (
	SideUnspecified Side = 0
	SideBuy         Side = 1
	SideSell        Side = 2
)

// Leg is exec.Leg. Market is a symbol on the plan's exchange.
type Leg struct {
	Market     string
	Side       Side
	Qty        float64
	LimitPrice float64
}

func (l *Leg) AppendWire(b []byte) []byte {
	b = appendString(b, 1, l.Market)
	b = appendUvarint(b, 2, uint64(l.Side))
	b = appendDouble(b, 3, l.Qty)
	return appendDouble(b, 4, l.LimitPrice)
}

func (l *Leg) UnmarshalWire(b []byte) error {
	*l = Leg{}
	return decode("Leg", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case 1:
			s, n, err := consumeString(typ, b)
			l.Market = s
			return n, true, err
		case 2:
			v, n, err := consumeUvarint(typ, b)
			l.Side = Side(int32(v))
			return n, true, err
		case 3:
			v, n, err := consumeDouble(typ, b)
			l.Qty = v
			return n, true, err
		case 4:
			v, n, err := consumeDouble(typ, b)
			l.LimitPrice = v
			return n, true, err
		}
		return 0, false, nil
	})
}

// ProposePlanRequest is exec.ProposePlanRequest. CreatedNs is optional; zero
// means the executor stamps the plan on receipt.
type ProposePlanRequest struct {
	Exchange            string
	QuoteCcy            string
	Legs                []Leg
	ExpectedProfitQuote float64
	MaxSlippageBp       float64
	ValidMs             uint32
	PlanID              string
	CreatedNs           uint64
}

func (r *ProposePlanRequest) AppendWire(b []byte) []byte {
	b = appendString(b, 1, r.Exchange)
	b = appendString(b, 2, r.QuoteCcy)
	for i := range r.Legs {
		b = appendMessage(b, 3, r.Legs[i].AppendWire(nil))
	}
	b = appendDouble(b, 4, r.ExpectedProfitQuote)
	b = appendDouble(b, 5, r.MaxSlippageBp)
	b = appendUvarint(b, 6, uint64(r.ValidMs))
	b = appendString(b, 7, r.PlanID)
	return appendUvarint(b, 8, r.CreatedNs)
}

func (r *ProposePlanRequest) UnmarshalWire(b []byte) error {
	*r = ProposePlanRequest{}
	return decode("ProposePlanRequest", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case 1:
			s, n, err := consumeString(typ, b)
			r.Exchange = s
			return n, true, err
		case 2:
			s, n, err := consumeString(typ, b)
			r.QuoteCcy = s
			return n, true, err
		case 3:
			raw, n, err := consumeBytes(typ, b)
			if err != nil || n < 0 {
				return n, true, err
			}
			var leg Leg
			if err := leg.UnmarshalWire(raw); err != nil {
				return n, true, err
			}
			r.Legs = append(r.Legs, leg)
			return n, true, nil
		case 4:
			v, n, err := consumeDouble(typ, b)
			r.ExpectedProfitQuote = v
			return n, true, err
		case 5:
			v, n, err := consumeDouble(typ, b)
			r.MaxSlippageBp = v
			return n, true, err
		case 6:
			v, n, err := consumeUvarint(typ, b)
			r.ValidMs = uint32(v)
			return n, true, err
		case 7:
			s, n, err := consumeString(typ, b)
			r.PlanID = s
			return n, true, err
		case 8:
			v, n, err := consumeUvarint(typ, b)
			r.CreatedNs = v
			return n, true, err
		}
		return 0, false, nil
	})
}

// ProposeReply is exec.ProposeReply.
type ProposeReply struct {
	Accepted bool
	Reason   string
}

func (r *ProposeReply) AppendWire(b []byte) []byte {
	b = appendBool(b, 1, r.Accepted)
	return appendString(b, 2, r.Reason)
}

func (r *ProposeReply) UnmarshalWire(b []byte) error {
	*r = ProposeReply{}
	return decode("ProposeReply", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case 1:
			v, n, err := consumeUvarint(typ, b)
			r.Accepted = v != 0
			return n, true, err
		case 2:
			s, n, err := consumeString(typ, b)
			r.Reason = s
			return n, true, err
		}
		return 0, false, nil
	})
}
