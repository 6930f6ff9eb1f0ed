package models

import (
	"time"
)

type AccountType string

const (
	AccountBusiness  AccountType = "BUSINESS"
	AccountInvestor  AccountType = "INVESTOR"
	AccountOwner     AccountType = "OWNER"
	AccountAssistant AccountType = "ASSISTANT"
)

// CapitalAccount is one of the four singleton roles per tenant. Accounts are
// created once at tenant setup and never deleted; their balance is always the
// fold of their ledger transactions, never a stored column.
type CapitalAccount struct {
	ID        string      `json:"id" db:"id"`
	OrgID     string      `json:"orgId" db:"org_id"`
	Type      AccountType `json:"type" db:"type"`
	Name      string      `json:"name" db:"name"`
	UserID    *string     `json:"userId,omitempty" db:"user_id"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
}

type UserRole string

const (
	RoleOwner     UserRole = "OWNER"
	RoleAssistant UserRole = "ASSISTANT"
	RoleInvestor  UserRole = "INVESTOR"
	RoleViewer    UserRole = "VIEWER"
)

// Actor identifies the authenticated caller for permission gates. The core
// only checks role and account ownership; session handling lives outside.
type Actor struct {
	UserID string
	OrgID  string
	Role   UserRole
}
