package domain

import "time"

// SwapStatus is the lifecycle state of a swap.
type SwapStatus string

const (
	StatusActive    SwapStatus = "ACTIVE"
	StatusCompleted SwapStatus = "COMPLETED"
	StatusCancelled SwapStatus = "CANCELLED"
)

// DisplayExpired is shown for an active swap whose deadline has passed.
const DisplayExpired = "EXPIRED"

// String returns the string representation of SwapStatus.
func (s SwapStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s SwapStatus) IsValid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusCancelled
}

// IsTerminal reports whether no further transition is possible.
func (s SwapStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether s -> next is a legal transition.
// Only ACTIVE -> COMPLETED and ACTIVE -> CANCELLED exist.
func (s SwapStatus) CanTransitionTo(next SwapStatus) bool {
	return s == StatusActive && next.IsTerminal()
}

// Role is the part an identity plays in a swap.
type Role string

const (
	RoleAny          Role = ""
	RoleInitiator    Role = "INITIATOR"
	RoleCounterparty Role = "COUNTERPARTY"
)

// IsValid checks if the role is a valid value.
func (r Role) IsValid() bool {
	return r == RoleAny || r == RoleInitiator || r == RoleCounterparty
}

// Swap is the escrow record for one basket exchange.
// Corresponds to swaps table in PostgreSQL.
type Swap struct {
	ID           string     `json:"id"` // hex sha256, see idhash.ComputeSwapID
	Initiator    Identity   `json:"initiator"`
	Counterparty Identity   `json:"counterparty"`
	Inputs       Basket     `json:"inputs"`  // held from initiator while active
	Outputs      Basket     `json:"outputs"` // supplied by counterparty on execute
	Deadline     time.Time  `json:"deadline"`
	Status       SwapStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	InputHolds   []HoldID   `json:"-"` // one ledger hold per Inputs entry
}

// Clone returns a deep copy of the swap.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	c := *s
	c.Inputs = s.Inputs.Clone()
	c.Outputs = s.Outputs.Clone()
	if s.InputHolds != nil {
		c.InputHolds = append([]HoldID(nil), s.InputHolds...)
	}
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// IsExpired reports whether now is at or past the deadline.
func (s *Swap) IsExpired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

// RoleOf returns the role id plays in the swap, or RoleAny if it is not a party.
func (s *Swap) RoleOf(id Identity) Role {
	switch id {
	case s.Initiator:
		return RoleInitiator
	case s.Counterparty:
		return RoleCounterparty
	default:
		return RoleAny
	}
}

// Involves reports whether id is a party to the swap in the given role.
func (s *Swap) Involves(id Identity, role Role) bool {
	switch role {
	case RoleInitiator:
		return s.Initiator == id
	case RoleCounterparty:
		return s.Counterparty == id
	default:
		return s.Initiator == id || s.Counterparty == id
	}
}

// SwapView is a swap plus fields derived at read time.
type SwapView struct {
	Swap
	Expired       bool   `json:"expired"`
	DisplayStatus string `json:"display_status"`
}

// NewSwapView derives the read-time fields of s against now.
func NewSwapView(s *Swap, now time.Time) *SwapView {
	v := &SwapView{
		Swap:          *s.Clone(),
		Expired:       s.IsExpired(now),
		DisplayStatus: s.Status.String(),
	}
	if s.Status == StatusActive && v.Expired {
		v.DisplayStatus = DisplayExpired
	}
	return v
}
