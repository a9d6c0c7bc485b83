package sql

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marmos91/dittomq/pkg/amqp/types"
	"github.com/marmos91/dittomq/pkg/linkstate"
)

// LinkRecord is the row for one retained link.
type LinkRecord struct {
	ID                 string    `gorm:"primaryKey;size:300"`
	LinkName           string    `gorm:"not null;size:255"`
	Role               string    `gorm:"not null;size:16"`
	LinkID             string    `gorm:"size:64"`
	SenderSettleMode   uint8     `gorm:"not null"`
	ReceiverSettleMode uint8     `gorm:"not null"`
	DeliveryCount      uint32    `gorm:"not null"`
	NextDeliveryID     uint32    `gorm:"not null"`
	DetachedAt         time.Time `gorm:"index;not null"`
	Principal          string    `gorm:"size:255"`

	Deliveries []RetainedDelivery `gorm:"foreignKey:RecordID"`
}

// TableName returns the table name for LinkRecord.
func (LinkRecord) TableName() string {
	return "link_records"
}

// RetainedDelivery is the row for one retained delivery.
type RetainedDelivery struct {
	RecordID          string `gorm:"primaryKey;size:300"`
	Position          int    `gorm:"primaryKey"`
	DeliveryID        uint32 `gorm:"not null"`
	DeliveryTag       []byte `gorm:"not null"`
	MessageFormat     uint32
	StateKind         string `gorm:"size:16;not null"`
	ErrorCondition    string `gorm:"size:255"`
	ErrorDescription  string `gorm:"size:1024"`
	DeliveryFailed    bool
	UndeliverableHere bool

	// Payload holds the JSON-encoded payload fragments.
	Payload     []byte
	Redelivered bool
	EnqueuedAt  time.Time
}

// TableName returns the table name for RetainedDelivery.
func (RetainedDelivery) TableName() string {
	return "retained_deliveries"
}

// AllModels returns the models to migrate.
func AllModels() []any {
	return []any{&LinkRecord{}, &RetainedDelivery{}}
}

func toModel(rec *linkstate.Record) (*LinkRecord, error) {
	id := rec.Key().String()
	m := &LinkRecord{
		ID:                 id,
		LinkName:           rec.LinkName,
		Role:               rec.Role.String(),
		LinkID:             rec.LinkID,
		SenderSettleMode:   uint8(rec.SenderSettleMode),
		ReceiverSettleMode: uint8(rec.ReceiverSettleMode),
		DeliveryCount:      rec.DeliveryCount,
		NextDeliveryID:     uint32(rec.NextDeliveryID),
		DetachedAt:         rec.DetachedAt.UTC(),
		Principal:          rec.Principal,
	}
	for i, d := range rec.Deliveries {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload of delivery %d: %w", d.DeliveryID, err)
		}
		row := RetainedDelivery{
			RecordID:          id,
			Position:          i,
			DeliveryID:        uint32(d.DeliveryID),
			DeliveryTag:       append([]byte(nil), d.DeliveryTag...),
			MessageFormat:     d.MessageFormat,
			StateKind:         d.State.Kind.String(),
			DeliveryFailed:    d.State.DeliveryFailed,
			UndeliverableHere: d.State.UndeliverableHere,
			Payload:           payload,
			Redelivered:       d.Redelivered,
			EnqueuedAt:        d.CreatedAt.UTC(),
		}
		if d.State.Error != nil {
			row.ErrorCondition = d.State.Error.Condition
			row.ErrorDescription = d.State.Error.Description
		}
		m.Deliveries = append(m.Deliveries, row)
	}
	return m, nil
}

func fromModel(m *LinkRecord) (*linkstate.Record, error) {
	role, err := types.ParseRole(m.Role)
	if err != nil {
		return nil, linkstate.NewCorruptError(m.ID, err)
	}
	rec := &linkstate.Record{
		LinkName:           m.LinkName,
		LinkID:             m.LinkID,
		Role:               role,
		SenderSettleMode:   types.SenderSettleMode(m.SenderSettleMode),
		ReceiverSettleMode: types.ReceiverSettleMode(m.ReceiverSettleMode),
		DeliveryCount:      m.DeliveryCount,
		NextDeliveryID:     types.DeliveryID(m.NextDeliveryID),
		DetachedAt:         m.DetachedAt.UTC(),
		Principal:          m.Principal,
	}
	for _, row := range m.Deliveries {
		kind, err := types.ParseStateKind(row.StateKind)
		if err != nil {
			return nil, linkstate.NewCorruptError(m.ID, err)
		}
		d := linkstate.Delivery{
			DeliveryID:    types.DeliveryID(row.DeliveryID),
			DeliveryTag:   types.DeliveryTag(row.DeliveryTag),
			MessageFormat: row.MessageFormat,
			State: types.DeliveryState{
				Kind:              kind,
				DeliveryFailed:    row.DeliveryFailed,
				UndeliverableHere: row.UndeliverableHere,
			},
			Redelivered: row.Redelivered,
			CreatedAt:   row.EnqueuedAt.UTC(),
		}
		if row.ErrorCondition != "" || row.ErrorDescription != "" {
			d.State.Error = &types.ErrorInfo{Condition: row.ErrorCondition, Description: row.ErrorDescription}
		}
		if len(row.Payload) > 0 {
			if err := json.Unmarshal(row.Payload, &d.Payload); err != nil {
				return nil, linkstate.NewCorruptError(m.ID, err)
			}
		}
		rec.Deliveries = append(rec.Deliveries, d)
	}
	return rec, nil
}
