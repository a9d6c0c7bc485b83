package types

import "fmt"

// Role identifies which side of a link an endpoint plays.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// Peer returns the role on the other end of the link.
func (r Role) Peer() Role {
	return !r
}

// ParseRole parses "sender" or "receiver".
func ParseRole(s string) (Role, error) {
	switch s {
	case "sender":
		return RoleSender, nil
	case "receiver":
		return RoleReceiver, nil
	default:
		return RoleSender, fmt.Errorf("unknown role %q", s)
	}
}

// SenderSettleMode is the settlement policy of the sending side.
type SenderSettleMode uint8

const (
	// SenderSettleUnsettled sends every delivery unsettled.
	SenderSettleUnsettled SenderSettleMode = iota
	// SenderSettleSettled settles every delivery on send.
	SenderSettleSettled
	// SenderSettleMixed lets each transfer choose.
	SenderSettleMixed
)

func (m SenderSettleMode) String() string {
	switch m {
	case SenderSettleUnsettled:
		return "unsettled"
	case SenderSettleSettled:
		return "settled"
	case SenderSettleMixed:
		return "mixed"
	default:
		return fmt.Sprintf("snd-settle-mode(%d)", uint8(m))
	}
}

// ReceiverSettleMode is the settlement policy of the receiving side.
type ReceiverSettleMode uint8

const (
	// ReceiverSettleFirst settles as soon as the outcome is known.
	ReceiverSettleFirst ReceiverSettleMode = iota
	// ReceiverSettleSecond requires the receiver to settle only after the
	// sender has settled; both sides exchange a settled disposition.
	ReceiverSettleSecond
)

func (m ReceiverSettleMode) String() string {
	switch m {
	case ReceiverSettleFirst:
		return "first"
	case ReceiverSettleSecond:
		return "second"
	default:
		return fmt.Sprintf("rcv-settle-mode(%d)", uint8(m))
	}
}

// Handle is the session-local link handle.
type Handle uint32

// Transfer is one frame of a message delivery.
//
// A multi-frame delivery is carried by several Transfer values sharing one
// delivery id; all but the last set More. Only the first frame of a
// delivery is required to carry the id and tag. A later frame that leaves
// them out has a zero DeliveryID and an empty DeliveryTag.
type Transfer struct {
	Handle        Handle        `json:"handle" yaml:"handle"`
	DeliveryID    DeliveryID    `json:"delivery_id" yaml:"delivery_id"`
	DeliveryTag   DeliveryTag   `json:"delivery_tag" yaml:"delivery_tag"`
	MessageFormat uint32        `json:"message_format,omitempty" yaml:"message_format,omitempty"`
	Settled       bool          `json:"settled" yaml:"settled"`
	State         DeliveryState `json:"state" yaml:"state"`
	More          bool          `json:"more,omitempty" yaml:"more,omitempty"`
	Resume        bool          `json:"resume,omitempty" yaml:"resume,omitempty"`
	Aborted       bool          `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	Payload       [][]byte      `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ContinuationOf reports whether t can be a later frame of the delivery
// whose first frame carried id and tag. An id or tag present on t must
// match; a zero id on a frame without its own tag counts as omitted.
func (t *Transfer) ContinuationOf(id DeliveryID, tag DeliveryTag) bool {
	if len(t.DeliveryTag) > 0 && !t.DeliveryTag.Equal(tag) {
		return false
	}
	return t.DeliveryID == id || t.DeliveryID == 0
}

// PayloadSize returns the total number of payload bytes across fragments.
func (t *Transfer) PayloadSize() int {
	n := 0
	for _, f := range t.Payload {
		n += len(f)
	}
	return n
}

// Clone returns a copy that shares no slices with t.
func (t *Transfer) Clone() *Transfer {
	c := *t
	c.DeliveryTag = append(DeliveryTag(nil), t.DeliveryTag...)
	if t.Payload != nil {
		c.Payload = make([][]byte, len(t.Payload))
		for i, f := range t.Payload {
			c.Payload[i] = append([]byte(nil), f...)
		}
	}
	if t.State.Error != nil {
		e := *t.State.Error
		c.State.Error = &e
	}
	return &c
}

// Disposition reports the outcome and settlement of a range of deliveries.
//
// Delivery ids are scoped to a link, so a disposition names the link by
// Handle. Role is the role of the side sending it. Last defaults to First
// when nil.
type Disposition struct {
	Handle  Handle        `json:"handle" yaml:"handle"`
	Role    Role          `json:"role" yaml:"role"`
	First   DeliveryID    `json:"first" yaml:"first"`
	Last    *DeliveryID   `json:"last,omitempty" yaml:"last,omitempty"`
	Settled bool          `json:"settled" yaml:"settled"`
	State   DeliveryState `json:"state" yaml:"state"`
}

// Range returns the inclusive delivery id range covered by d.
func (d *Disposition) Range() (first, last DeliveryID) {
	if d.Last == nil {
		return d.First, d.First
	}
	return d.First, *d.Last
}

// Flow carries link flow-control state.
//
// DeliveryCount is nil when a receiver has not yet seen the sender's
// initial delivery count.
type Flow struct {
	Handle        Handle  `json:"handle" yaml:"handle"`
	DeliveryCount *uint32 `json:"delivery_count,omitempty" yaml:"delivery_count,omitempty"`
	LinkCredit    uint32  `json:"link_credit" yaml:"link_credit"`
	Available     uint32  `json:"available,omitempty" yaml:"available,omitempty"`
	Drain         bool    `json:"drain,omitempty" yaml:"drain,omitempty"`
	Echo          bool    `json:"echo,omitempty" yaml:"echo,omitempty"`
}

// Attach opens or resumes a link.
//
// Unsettled is the attaching side's view of its unsettled deliveries keyed
// by delivery tag; a nil state means the delivery is unsettled without an
// outcome. IncompleteUnsettled marks a truncated map.
type Attach struct {
	Name                 string                    `json:"name" yaml:"name"`
	Handle               Handle                    `json:"handle" yaml:"handle"`
	Role                 Role                      `json:"role" yaml:"role"`
	SenderSettleMode     SenderSettleMode          `json:"snd_settle_mode" yaml:"snd_settle_mode"`
	ReceiverSettleMode   ReceiverSettleMode        `json:"rcv_settle_mode" yaml:"rcv_settle_mode"`
	Unsettled            map[string]*DeliveryState `json:"unsettled,omitempty" yaml:"unsettled,omitempty"`
	IncompleteUnsettled  bool                      `json:"incomplete_unsettled,omitempty" yaml:"incomplete_unsettled,omitempty"`
	InitialDeliveryCount uint32                    `json:"initial_delivery_count" yaml:"initial_delivery_count"`
}

// Detach closes or suspends a link. Closed=true means the link is gone for
// good; otherwise the peer intends to reattach with the same name.
type Detach struct {
	Handle Handle     `json:"handle" yaml:"handle"`
	Closed bool       `json:"closed" yaml:"closed"`
	Error  *ErrorInfo `json:"error,omitempty" yaml:"error,omitempty"`
}

// Performative is implemented by every link-level frame body.
type Performative interface {
	// Performative returns the AMQP name of the frame, e.g. "transfer".
	Performative() string
}

func (*Transfer) Performative() string    { return "transfer" }
func (*Disposition) Performative() string { return "disposition" }
func (*Flow) Performative() string        { return "flow" }
func (*Attach) Performative() string      { return "attach" }
func (*Detach) Performative() string      { return "detach" }
