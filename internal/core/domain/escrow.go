package domain

import (
	"time"

	"github.com/google/uuid"
)

// EscrowStatus is the lifecycle state of a bid escrow.
type EscrowStatus string

const (
	EscrowStatusOpen     EscrowStatus = "open"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusSettled  EscrowStatus = "settled"
)

// BidEscrow links tokens locked on a bidder's wallet to a bid reference until
// they are released (outbid) or settled (won). LockedAmount is what is still
// outstanding; the escrow closes when it reaches zero.
type BidEscrow struct {
	ReferenceID  string       `json:"reference_id"`
	WalletID     uuid.UUID    `json:"wallet_id"`
	LockedAmount int64        `json:"locked_amount"`
	Status       EscrowStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsOpen reports whether tokens can still be added to or drawn from e.
func (e *BidEscrow) IsOpen() bool {
	return e.Status == EscrowStatusOpen
}
