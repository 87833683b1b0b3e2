package domain

import "time"

// Role is a member's governance role within the cooperative.
type Role string

const (
	RoleMember  Role = "member"
	RoleSteward Role = "steward"
	RoleAdmin   Role = "admin"
)

// MemberStatus tracks whether a member currently participates.
// Identity is immutable once created; status is the only mutable field.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// Member is a cooperative member. Each member owns one capital account
// per accounting basis (see Account).
//
// DRO and QIO record the member's deficit-restoration obligation and
// qualified-income-offset provisions. The capital-account validator treats
// a negative capital account without either provision as a violation.
type Member struct {
	ID       string
	Name     string
	Role     Role
	Status   MemberStatus
	DRO      bool
	QIO      bool
	JoinedAt time.Time
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleMember, RoleSteward, RoleAdmin:
		return true
	}
	return false
}

// Basis distinguishes the two parallel capital-account ledgers.
type Basis string

const (
	BasisBook Basis = "book"
	BasisTax  Basis = "tax"
)

// Bases lists all accounting bases in posting order.
var Bases = []Basis{BasisBook, BasisTax}

// AccountKind separates member capital accounts from system accounts
// such as retained surplus.
type AccountKind string

const (
	AccountMember AccountKind = "member"
	AccountSystem AccountKind = "system"
)

// Account identifies a capital account. Accounts never hold a balance
// field: balances are always derived from the transaction log, either
// by the ledger's incremental index or by full replay.
type Account struct {
	ID       string
	Kind     AccountKind
	MemberID string // empty for system accounts
	Basis    Basis
}

// MemberAccountID returns the deterministic account ID for a member on
// a basis, e.g. "acct:m-1:book".
func MemberAccountID(memberID string, basis Basis) string {
	return "acct:" + memberID + ":" + string(basis)
}

// SystemAccountID returns the deterministic account ID for a named
// system account on a basis, e.g. "acct:retained-surplus:tax".
func SystemAccountID(name string, basis Basis) string {
	return "acct:" + name + ":" + string(basis)
}
