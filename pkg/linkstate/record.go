package linkstate

import (
	"slices"
	"time"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// Delivery is one unsettled delivery retained across a detach.
type Delivery struct {
	DeliveryID    types.DeliveryID    `json:"delivery_id"`
	DeliveryTag   types.DeliveryTag   `json:"delivery_tag"`
	MessageFormat uint32              `json:"message_format,omitempty"`
	State         types.DeliveryState `json:"state"`
	Payload       [][]byte            `json:"payload,omitempty"`
	Redelivered   bool                `json:"redelivered,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Transfer rebuilds the transfer frame for this delivery.
func (d *Delivery) Transfer() *types.Transfer {
	t := &types.Transfer{
		DeliveryID:    d.DeliveryID,
		DeliveryTag:   d.DeliveryTag,
		MessageFormat: d.MessageFormat,
		State:         d.State,
		Payload:       d.Payload,
	}
	return t.Clone()
}

// Record is the snapshot taken when a link detaches with a reattach
// expected. Deliveries are ordered by delivery id.
type Record struct {
	LinkName           string                   `json:"link_name"`
	LinkID             string                   `json:"link_id"`
	Role               types.Role               `json:"role"`
	SenderSettleMode   types.SenderSettleMode   `json:"snd_settle_mode"`
	ReceiverSettleMode types.ReceiverSettleMode `json:"rcv_settle_mode"`
	DeliveryCount      uint32                   `json:"delivery_count"`
	NextDeliveryID     types.DeliveryID         `json:"next_delivery_id"`
	Deliveries         []Delivery               `json:"deliveries"`
	DetachedAt         time.Time                `json:"detached_at"`
	Principal          string                   `json:"principal,omitempty"`
}

// Key identifies a retained record. AMQP link names are unique per
// direction, so the role is part of the key.
type Key struct {
	Name string
	Role types.Role
}

// String renders the key as "role/name".
func (k Key) String() string {
	return k.Role.String() + "/" + k.Name
}

// Key returns the lookup key of r.
func (r *Record) Key() Key {
	return Key{Name: r.LinkName, Role: r.Role}
}

// Sort orders deliveries by serial delivery id.
func (r *Record) Sort() {
	slices.SortFunc(r.Deliveries, func(a, b Delivery) int {
		return int(types.SerialDiff(uint32(a.DeliveryID), uint32(b.DeliveryID)))
	})
}

// Lookup returns the retained delivery with the given tag.
func (r *Record) Lookup(tag types.DeliveryTag) (*Delivery, bool) {
	for i := range r.Deliveries {
		if r.Deliveries[i].DeliveryTag.Equal(tag) {
			return &r.Deliveries[i], true
		}
	}
	return nil, false
}

// Unsettled renders the record as the unsettled map carried on attach.
func (r *Record) Unsettled() map[string]*types.DeliveryState {
	m := make(map[string]*types.DeliveryState, len(r.Deliveries))
	for i := range r.Deliveries {
		d := &r.Deliveries[i]
		if d.State.IsTerminal() {
			s := d.State
			m[d.DeliveryTag.Key()] = &s
		} else {
			m[d.DeliveryTag.Key()] = nil
		}
	}
	return m
}

// Tags returns the delivery tags as strings, in record order.
func (r *Record) Tags() []string {
	tags := make([]string, len(r.Deliveries))
	for i := range r.Deliveries {
		tags[i] = r.Deliveries[i].DeliveryTag.String()
	}
	return tags
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Deliveries = make([]Delivery, len(r.Deliveries))
	for i, d := range r.Deliveries {
		t := d.Transfer()
		d.DeliveryTag = t.DeliveryTag
		d.Payload = t.Payload
		d.State = t.State
		c.Deliveries[i] = d
	}
	return &c
}
