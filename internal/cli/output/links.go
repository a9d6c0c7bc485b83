package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/dittomq/internal/protocol/amqp/link"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// RecordList renders retained link records, one row per link.
type RecordList []*linkstate.Record

func (l RecordList) Headers() []string {
	return []string{"LINK", "ROLE", "LINK ID", "UNSETTLED", "DELIVERY COUNT", "DETACHED", "PRINCIPAL"}
}

func (l RecordList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{
			r.LinkName,
			r.Role.String(),
			orDash(r.LinkID),
			strconv.Itoa(len(r.Deliveries)),
			strconv.FormatUint(uint64(r.DeliveryCount), 10),
			formatTime(r.DetachedAt),
			orDash(r.Principal),
		})
	}
	return rows
}

// DeliveryList renders the deliveries of one record.
type DeliveryList []linkstate.Delivery

func (l DeliveryList) Headers() []string {
	return []string{"ID", "TAG", "STATE", "REDELIVERED", "BYTES", "CREATED"}
}

func (l DeliveryList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		size := 0
		for _, f := range d.Payload {
			size += len(f)
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(d.DeliveryID), 10),
			d.DeliveryTag.String(),
			d.State.String(),
			strconv.FormatBool(d.Redelivered),
			strconv.Itoa(size),
			formatTime(d.CreatedAt),
		})
	}
	return rows
}

// RecordDetail returns the header fields of r for KeyValues.
func RecordDetail(r *linkstate.Record) [][2]string {
	return [][2]string{
		{"Link", r.LinkName},
		{"Role", r.Role.String()},
		{"Link ID", orDash(r.LinkID)},
		{"Settle modes", fmt.Sprintf("snd=%s rcv=%s", r.SenderSettleMode, r.ReceiverSettleMode)},
		{"Delivery count", strconv.FormatUint(uint64(r.DeliveryCount), 10)},
		{"Next delivery id", strconv.FormatUint(uint64(r.NextDeliveryID), 10)},
		{"Detached", formatTime(r.DetachedAt)},
		{"Principal", orDash(r.Principal)},
	}
}

// EventList renders outbound link events in emission order.
type EventList []link.Event

func (l EventList) Headers() []string {
	return []string{"#", "LINK", "EVENT", "DETAIL"}
}

func (l EventList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for i, ev := range l {
		kind, detail := describeEvent(ev)
		rows = append(rows, []string{strconv.Itoa(i + 1), ev.LinkName(), kind, detail})
	}
	return rows
}

func describeEvent(ev link.Event) (string, string) {
	switch e := ev.(type) {
	case link.DispositionEvent:
		d := e.Disposition
		first, last := d.Range()
		ids := strconv.FormatUint(uint64(first), 10)
		if last != first {
			ids += ".." + strconv.FormatUint(uint64(last), 10)
		}
		return "disposition", fmt.Sprintf("ids=%s state=%s settled=%t", ids, d.State, d.Settled)
	case link.RedeliverEvent:
		return "redeliver", fmt.Sprintf("id=%d tag=%s", e.Transfer.DeliveryID, e.Transfer.DeliveryTag)
	case link.ResumeEvent:
		return "resume", fmt.Sprintf("id=%d tag=%s state=%s", e.Transfer.DeliveryID, e.Transfer.DeliveryTag, e.Transfer.State)
	case link.FlowEvent:
		f := e.Flow
		dc := "-"
		if f.DeliveryCount != nil {
			dc = strconv.FormatUint(uint64(*f.DeliveryCount), 10)
		}
		return "flow", fmt.Sprintf("delivery_count=%s credit=%d drain=%t", dc, f.LinkCredit, f.Drain)
	default:
		return fmt.Sprintf("%T", ev), ""
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
