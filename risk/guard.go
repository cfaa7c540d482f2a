package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

// checkSupplyCap verifies that minting amount more underlying keeps the
// market within its supply cap. A zero cap closes the market to new supply.
// Current supply is reconstructed from outstanding tokens at the stored
// exchange rate.
func (e *Engine) checkSupplyCap(m *Market, acct MarketAccounting, amount *big.Int) error {
	cap := m.SupplyCap
	if cap == nil || cap.Sign() == 0 {
		return fmt.Errorf("supply %s: %w", m.Address.Hex(), ErrSupplyCapReached)
	}
	current := mulScalarTruncate(acct.ExchangeRateStored(), acct.TotalSupply())
	next := new(big.Int).Add(current, amount)
	if next.Cmp(cap) > 0 {
		return fmt.Errorf("supply %s: %w", m.Address.Hex(), ErrSupplyCapReached)
	}
	return nil
}

// checkBorrowCap verifies that borrowing amount more underlying keeps the
// market within its borrow cap. A zero cap closes the market to new borrows.
func (e *Engine) checkBorrowCap(m *Market, acct MarketAccounting, amount *big.Int) error {
	cap := m.BorrowCap
	if cap == nil || cap.Sign() == 0 {
		return fmt.Errorf("borrow %s: %w", m.Address.Hex(), ErrBorrowCapReached)
	}
	total := acct.TotalBorrows()
	if total == nil {
		total = big.NewInt(0)
	}
	next := new(big.Int).Add(total, amount)
	if next.Cmp(cap) > 0 {
		return fmt.Errorf("borrow %s: %w", m.Address.Hex(), ErrBorrowCapReached)
	}
	return nil
}

// SetActionsPaused flips pause flags for a batch of (market, action) pairs.
// The whole batch is validated before any flag changes, so one unlisted
// market rejects the entire update. Empty batches and flags already at the
// requested value are silent no-ops.
func (e *Engine) SetActionsPaused(caller common.Address, markets []common.Address, actions []Action, paused bool) error {
	if err := e.authorize(caller, "setActionsPaused"); err != nil {
		return err
	}
	if len(markets) == 0 || len(actions) == 0 {
		return nil
	}
	loaded := make(map[common.Address]*Market, len(markets))
	for _, addr := range markets {
		if _, ok := loaded[addr]; ok {
			continue
		}
		m, err := e.listedMarket(addr)
		if err != nil {
			return err
		}
		loaded[addr] = m
	}
	for _, action := range actions {
		if !action.Valid() {
			return fmt.Errorf("action %d: %w", action, ErrInvalidParameter)
		}
	}
	for _, addr := range markets {
		m := loaded[addr]
		changed := false
		for _, action := range actions {
			if m.ActionPaused(action) == paused {
				continue
			}
			m.setActionPaused(action, paused)
			changed = true
			e.emit(events.ActionsPaused{Market: addr, Action: action.String(), Paused: paused})
		}
		if !changed {
			continue
		}
		if err := e.state.PutMarket(m); err != nil {
			return err
		}
	}
	return nil
}

// SetSupplyCap updates a market's supply cap in underlying units. Zero closes
// the market to new supply entirely.
func (e *Engine) SetSupplyCap(caller, market common.Address, cap *big.Int) error {
	if err := e.authorize(caller, "setSupplyCap"); err != nil {
		return err
	}
	if cap == nil || cap.Sign() < 0 {
		return ErrInvalidParameter
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if m.SupplyCap.Cmp(cap) == 0 {
		return ErrNoOpUpdate
	}
	old := m.SupplyCap
	m.SupplyCap = new(big.Int).Set(cap)
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	e.emit(events.MarketCapUpdated{Market: market, Cap: "supply", OldCap: old, NewCap: new(big.Int).Set(cap)})
	return nil
}

// SetBorrowCap updates a market's borrow cap in underlying units. Zero closes
// the market to new borrows entirely.
func (e *Engine) SetBorrowCap(caller, market common.Address, cap *big.Int) error {
	if err := e.authorize(caller, "setBorrowCap"); err != nil {
		return err
	}
	if cap == nil || cap.Sign() < 0 {
		return ErrInvalidParameter
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if m.BorrowCap.Cmp(cap) == 0 {
		return ErrNoOpUpdate
	}
	old := m.BorrowCap
	m.BorrowCap = new(big.Int).Set(cap)
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	e.emit(events.MarketCapUpdated{Market: market, Cap: "borrow", OldCap: old, NewCap: new(big.Int).Set(cap)})
	return nil
}
