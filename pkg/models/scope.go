package models

import "fmt"

// ScopeType identifies the kind of entity a rule or workflow is attached to.
type ScopeType string

const (
	ScopeMerchant     ScopeType = "MERCHANT"
	ScopeOrganization ScopeType = "ORGANIZATION"
	ScopeProgram      ScopeType = "PROGRAM"
	ScopeBank         ScopeType = "BANK"
)

// scopeEntities maps each scope kind to the refund attribute owning it.
var scopeEntities = map[ScopeType]func(r *RefundSnapshot) string{
	ScopeMerchant:     func(r *RefundSnapshot) string { return r.MerchantID },
	ScopeOrganization: func(r *RefundSnapshot) string { return r.OrganizationID },
	ScopeProgram:      func(r *RefundSnapshot) string { return r.ProgramID },
	ScopeBank:         func(r *RefundSnapshot) string { return r.BankID },
}

// ParseScopeType validates a scope kind.
func ParseScopeType(s string) (ScopeType, error) {
	st := ScopeType(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown scope type %q", s)
	}

	return st, nil
}

// Valid reports whether the scope kind is known.
func (s ScopeType) Valid() bool {
	_, ok := scopeEntities[s]

	return ok
}

// EntityID returns the identifier of the refund's owning entity for this scope kind.
func (s ScopeType) EntityID(r *RefundSnapshot) string {
	lookup, ok := scopeEntities[s]
	if !ok || r == nil {
		return ""
	}

	return lookup(r)
}

// Matches reports whether a configuration scoped to (s, scopeID) applies to the refund.
func (s ScopeType) Matches(scopeID string, r *RefundSnapshot) bool {
	entityID := s.EntityID(r)

	return entityID != "" && entityID == scopeID
}
