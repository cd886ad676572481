// Package bank is the token-transfer collaborator boundary. The engine pulls
// gross wagers into custody and pays winnings back out; a transfer failure
// must abort the whole triggering operation before any state commits.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the player's
	// balance.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")

	// ErrTransferFailed wraps any other transfer failure.
	ErrTransferFailed = errors.New("bank: transfer failed")
)

// Bank moves funds between players and engine custody.
type Bank interface {
	// Debit pulls amount from the player into custody.
	Debit(ctx context.Context, player string, amount decimal.Decimal) error

	// Credit pays amount from custody out to the player.
	Credit(ctx context.Context, player string, amount decimal.Decimal) error
}

// MemoryBank is an in-process Bank keeping balances in a map. It exists so
// the engine and its tests can run end-to-end; a deployment wires a real
// token service here instead.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	custody  decimal.Decimal
}

// NewMemoryBank creates an empty in-memory bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[string]decimal.Decimal)}
}

// Deposit funds a player's balance. Test/dev seeding only.
func (b *MemoryBank) Deposit(player string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[player] = b.balances[player].Add(amount)
}

// Balance returns a player's current balance.
func (b *MemoryBank) Balance(player string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[player]
}

// Custody returns the total held by the engine.
func (b *MemoryBank) Custody() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.custody
}

func (b *MemoryBank) Debit(_ context.Context, player string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[player].LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientFunds, player, b.balances[player], amount)
	}
	b.balances[player] = b.balances[player].Sub(amount)
	b.custody = b.custody.Add(amount)
	return nil
}

func (b *MemoryBank) Credit(_ context.Context, player string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.custody.LessThan(amount) {
		// Paying out more than custody holds means the ledger accounting
		// is broken somewhere; fail instead of minting.
		return fmt.Errorf("%w: custody %s short of %s", ErrTransferFailed, b.custody, amount)
	}
	b.custody = b.custody.Sub(amount)
	b.balances[player] = b.balances[player].Add(amount)
	return nil
}

var _ Bank = (*MemoryBank)(nil)
