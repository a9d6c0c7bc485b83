// Package replay runs scripted AMQP link scenarios against a session.
//
// A scenario is a YAML document listing inbound performatives from the peer
// and local application actions in order. The runner feeds them through a
// session.Session and collects every outbound event the link layer raises.
package replay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittomq/pkg/amqp/types"
)

// Scenario is a parsed replay script.
type Scenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	VirtualHost string     `yaml:"virtual_host,omitempty"`
	Principal   string     `yaml:"principal,omitempty"`
	Link        LinkConfig `yaml:"link,omitempty"`
	Steps       []Step     `yaml:"steps"`
}

// LinkConfig overrides the session link defaults for one scenario.
type LinkConfig struct {
	InitialCredit *uint32 `yaml:"initial_credit,omitempty"`
	CreditWindow  *uint32 `yaml:"credit_window,omitempty"`
}

// Step is one scripted action. Exactly one action field is set.
type Step struct {
	Attach      *AttachStep      `yaml:"attach,omitempty"`
	Transfer    *TransferStep    `yaml:"transfer,omitempty"`
	Disposition *DispositionStep `yaml:"disposition,omitempty"`
	Flow        *FlowStep        `yaml:"flow,omitempty"`
	Detach      *DetachStep      `yaml:"detach,omitempty"`
	Send        *SendStep        `yaml:"send,omitempty"`
	Settle      *SettleStep      `yaml:"settle,omitempty"`
	Grant       *GrantStep       `yaml:"grant,omitempty"`
	Sweep       *SweepStep       `yaml:"sweep,omitempty"`
	Advance     time.Duration    `yaml:"advance,omitempty"`
	Expect      *Expectation     `yaml:"expect,omitempty"`

	// ExpectError names the link error code the step must fail with,
	// e.g. "ProtocolViolation".
	ExpectError string `yaml:"expect_error,omitempty"`
}

// AttachStep is an attach received from the peer. Role is the peer's role.
type AttachStep struct {
	Name                 string                `yaml:"name"`
	Handle               types.Handle          `yaml:"handle"`
	Role                 string                `yaml:"role"`
	SenderSettleMode     string                `yaml:"snd_settle_mode,omitempty"`
	ReceiverSettleMode   string                `yaml:"rcv_settle_mode,omitempty"`
	Unsettled            map[string]*StateSpec `yaml:"unsettled,omitempty"`
	IncompleteUnsettled  bool                  `yaml:"incomplete_unsettled,omitempty"`
	InitialDeliveryCount uint32                `yaml:"initial_delivery_count,omitempty"`
}

// TransferStep is a transfer frame received from the peer.
type TransferStep struct {
	Handle     types.Handle     `yaml:"handle"`
	DeliveryID types.DeliveryID `yaml:"delivery_id"`
	Tag        string           `yaml:"tag"`
	Settled    bool             `yaml:"settled,omitempty"`
	State      *StateSpec       `yaml:"state,omitempty"`
	More       bool             `yaml:"more,omitempty"`
	Aborted    bool             `yaml:"aborted,omitempty"`
	Payload    string           `yaml:"payload,omitempty"`
}

// DispositionStep is a disposition received from the peer. Role is the
// peer's role.
type DispositionStep struct {
	Handle  types.Handle      `yaml:"handle"`
	Role    string            `yaml:"role"`
	First   types.DeliveryID  `yaml:"first"`
	Last    *types.DeliveryID `yaml:"last,omitempty"`
	Settled bool              `yaml:"settled,omitempty"`
	State   *StateSpec        `yaml:"state,omitempty"`
}

// FlowStep is a flow received from the peer.
type FlowStep struct {
	Handle        types.Handle `yaml:"handle"`
	DeliveryCount *uint32      `yaml:"delivery_count,omitempty"`
	LinkCredit    uint32       `yaml:"link_credit"`
	Available     uint32       `yaml:"available,omitempty"`
	Drain         bool         `yaml:"drain,omitempty"`
	Echo          bool         `yaml:"echo,omitempty"`
}

// DetachStep is a detach received from the peer.
type DetachStep struct {
	Handle    types.Handle `yaml:"handle"`
	Closed    bool         `yaml:"closed,omitempty"`
	Condition string       `yaml:"condition,omitempty"`
}

// SendStep makes the application send one delivery per tag on a local
// sender.
type SendStep struct {
	Handle  types.Handle `yaml:"handle"`
	Tags    []string     `yaml:"tags"`
	Settled bool         `yaml:"settled,omitempty"`
	Payload string       `yaml:"payload,omitempty"`
}

// SettleStep makes the application dispose of a range of deliveries on a
// local endpoint.
type SettleStep struct {
	Handle  types.Handle      `yaml:"handle"`
	First   types.DeliveryID  `yaml:"first"`
	Last    *types.DeliveryID `yaml:"last,omitempty"`
	State   *StateSpec        `yaml:"state,omitempty"`
	Settled bool              `yaml:"settled,omitempty"`
}

// GrantStep makes a local receiver issue credit.
type GrantStep struct {
	Handle types.Handle `yaml:"handle"`
	Credit uint32       `yaml:"credit"`
	Drain  bool         `yaml:"drain,omitempty"`
}

// SweepStep expires deliveries unsettled for longer than OlderThan.
type SweepStep struct {
	OlderThan time.Duration `yaml:"older_than"`
}

// Expectation checks the state of one local endpoint. Unset fields are not
// checked. Attached=false asserts the handle is no longer routed.
type Expectation struct {
	Handle              types.Handle `yaml:"handle"`
	Attached            *bool        `yaml:"attached,omitempty"`
	Unsettled           *int         `yaml:"unsettled,omitempty"`
	Available           *uint32      `yaml:"available,omitempty"`
	DeliveryCount       *uint32      `yaml:"delivery_count,omitempty"`
	PendingRedeliveries *int         `yaml:"pending_redeliveries,omitempty"`
	PendingResumes      *int         `yaml:"pending_resumes,omitempty"`
}

// StateSpec is a delivery state in a script. It is written either as a
// bare outcome name ("accepted") or as a mapping with the outcome fields.
type StateSpec struct {
	Kind              string `yaml:"kind"`
	Condition         string `yaml:"condition,omitempty"`
	Description       string `yaml:"description,omitempty"`
	DeliveryFailed    bool   `yaml:"delivery_failed,omitempty"`
	UndeliverableHere bool   `yaml:"undeliverable_here,omitempty"`
}

// UnmarshalYAML accepts the scalar shorthand.
func (s *StateSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.Kind = n.Value
		return nil
	}
	type plain StateSpec
	return n.Decode((*plain)(s))
}

// State converts s to a delivery state. A nil StateSpec is unsettled.
func (s *StateSpec) State() (types.DeliveryState, error) {
	if s == nil {
		return types.Unsettled, nil
	}
	kind, err := types.ParseStateKind(s.Kind)
	if err != nil {
		return types.DeliveryState{}, err
	}
	st := types.DeliveryState{Kind: kind}
	switch kind {
	case types.StateRejected:
		if s.Condition != "" {
			st.Error = &types.ErrorInfo{Condition: s.Condition, Description: s.Description}
		}
	case types.StateModified:
		st.DeliveryFailed = s.DeliveryFailed
		st.UndeliverableHere = s.UndeliverableHere
	}
	return st, nil
}

// Op returns the name of the step's action.
func (s *Step) Op() string {
	switch {
	case s.Attach != nil:
		return "attach"
	case s.Transfer != nil:
		return "transfer"
	case s.Disposition != nil:
		return "disposition"
	case s.Flow != nil:
		return "flow"
	case s.Detach != nil:
		return "detach"
	case s.Send != nil:
		return "send"
	case s.Settle != nil:
		return "settle"
	case s.Grant != nil:
		return "grant"
	case s.Sweep != nil:
		return "sweep"
	case s.Advance != 0:
		return "advance"
	case s.Expect != nil:
		return "expect"
	default:
		return ""
	}
}

func (s *Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Attach != nil, s.Transfer != nil, s.Disposition != nil, s.Flow != nil,
		s.Detach != nil, s.Send != nil, s.Settle != nil, s.Grant != nil,
		s.Sweep != nil, s.Advance != 0, s.Expect != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that every step names exactly one action.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	for i := range sc.Steps {
		if n := sc.Steps[i].actions(); n != 1 {
			return fmt.Errorf("step %d: expected exactly one action, got %d", i+1, n)
		}
	}
	return nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

func parseSenderSettleMode(s string) (types.SenderSettleMode, error) {
	switch strings.ToLower(s) {
	case "", "mixed":
		return types.SenderSettleMixed, nil
	case "unsettled":
		return types.SenderSettleUnsettled, nil
	case "settled":
		return types.SenderSettleSettled, nil
	default:
		return 0, fmt.Errorf("unknown snd_settle_mode %q", s)
	}
}

func parseReceiverSettleMode(s string) (types.ReceiverSettleMode, error) {
	switch strings.ToLower(s) {
	case "", "first":
		return types.ReceiverSettleFirst, nil
	case "second":
		return types.ReceiverSettleSecond, nil
	default:
		return 0, fmt.Errorf("unknown rcv_settle_mode %q", s)
	}
}
