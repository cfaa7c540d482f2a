package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

// updateSupplyIndex lazily advances the market's supply-side reward index to
// the current block. The caller persists the market afterwards.
func (e *Engine) updateSupplyIndex(m *Market, acct MarketAccounting) {
	m.SupplyReward = accrueIndex(m.SupplyReward, e.blockNumber(), m.SupplySpeed, acct.TotalSupply())
}

// updateBorrowIndex lazily advances the borrow-side reward index. Borrow
// balances grow with interest, so totals are normalized by the market's
// borrow index to keep reward weight proportional to principal.
func (e *Engine) updateBorrowIndex(m *Market, acct MarketAccounting) {
	total := acct.TotalBorrows()
	if idx := acct.BorrowIndex(); idx != nil && idx.Sign() > 0 {
		total = divExp(total, idx)
	}
	m.BorrowReward = accrueIndex(m.BorrowReward, e.blockNumber(), m.BorrowSpeed, total)
}

// distributeSupplierReward credits the supplier with rewards accrued since
// its last snapshot of the market's supply index and refreshes the snapshot.
func (e *Engine) distributeSupplierReward(m *Market, acct MarketAccounting, supplier common.Address) error {
	pos, err := e.ensurePosition(supplier)
	if err != nil {
		return err
	}
	snapshot := pos.SupplierIndex[m.Address]
	if snapshot == nil || snapshot.Sign() == 0 {
		snapshot = rewardInitialIndex
	}
	index := m.SupplyReward.Index
	if index.Cmp(snapshot) > 0 {
		delta := new(big.Int).Sub(index, snapshot)
		if balance := acct.BalanceOf(supplier); balance != nil && balance.Sign() > 0 {
			accrued := new(big.Int).Mul(balance, delta)
			pos.Accrued = new(big.Int).Add(pos.Accrued, accrued.Quo(accrued, doubleScale))
		}
	}
	pos.SupplierIndex[m.Address] = new(big.Int).Set(index)
	return e.state.PutPosition(pos)
}

// distributeBorrowerReward credits the borrower with rewards accrued since
// its last snapshot of the market's borrow index and refreshes the snapshot.
func (e *Engine) distributeBorrowerReward(m *Market, acct MarketAccounting, borrower common.Address) error {
	pos, err := e.ensurePosition(borrower)
	if err != nil {
		return err
	}
	snapshot := pos.BorrowerIndex[m.Address]
	if snapshot == nil || snapshot.Sign() == 0 {
		snapshot = rewardInitialIndex
	}
	index := m.BorrowReward.Index
	if index.Cmp(snapshot) > 0 {
		delta := new(big.Int).Sub(index, snapshot)
		balance := acct.BorrowBalanceStored(borrower)
		if idx := acct.BorrowIndex(); idx != nil && idx.Sign() > 0 {
			balance = divExp(balance, idx)
		}
		if balance != nil && balance.Sign() > 0 {
			accrued := new(big.Int).Mul(balance, delta)
			pos.Accrued = new(big.Int).Add(pos.Accrued, accrued.Quo(accrued, doubleScale))
		}
	}
	pos.BorrowerIndex[m.Address] = new(big.Int).Set(index)
	return e.state.PutPosition(pos)
}

// SetRewardSpeeds updates the per-block distribution speeds for a batch of
// markets. Each market's indices accrue at the old speed up to the current
// block before the new speed takes effect, so speed changes are never
// retroactive.
func (e *Engine) SetRewardSpeeds(caller common.Address, markets []common.Address, supplySpeeds, borrowSpeeds []*big.Int) error {
	if err := e.authorize(caller, "setRewardSpeeds"); err != nil {
		return err
	}
	if len(markets) != len(supplySpeeds) || len(markets) != len(borrowSpeeds) {
		return ErrArrayLengthMismatch
	}
	type update struct {
		market *Market
		acct   MarketAccounting
		supply *big.Int
		borrow *big.Int
	}
	updates := make([]update, 0, len(markets))
	for i, addr := range markets {
		m, err := e.listedMarket(addr)
		if err != nil {
			return err
		}
		acct, err := e.accountingFor(addr)
		if err != nil {
			return err
		}
		supply := supplySpeeds[i]
		borrow := borrowSpeeds[i]
		if supply == nil || supply.Sign() < 0 || borrow == nil || borrow.Sign() < 0 {
			return fmt.Errorf("market %s: %w", addr.Hex(), ErrInvalidParameter)
		}
		if m.SupplySpeed.Cmp(supply) == 0 && m.BorrowSpeed.Cmp(borrow) == 0 {
			return fmt.Errorf("market %s: %w", addr.Hex(), ErrNoOpUpdate)
		}
		updates = append(updates, update{market: m, acct: acct, supply: supply, borrow: borrow})
	}
	for _, u := range updates {
		if u.market.SupplySpeed.Cmp(u.supply) != 0 {
			e.updateSupplyIndex(u.market, u.acct)
			u.market.SupplySpeed = new(big.Int).Set(u.supply)
		}
		if u.market.BorrowSpeed.Cmp(u.borrow) != 0 {
			e.updateBorrowIndex(u.market, u.acct)
			u.market.BorrowSpeed = new(big.Int).Set(u.borrow)
		}
		if err := e.state.PutMarket(u.market); err != nil {
			return err
		}
		e.emit(events.RewardSpeedsUpdated{
			Market:      u.market.Address,
			SupplySpeed: new(big.Int).Set(u.supply),
			BorrowSpeed: new(big.Int).Set(u.borrow),
		})
	}
	return nil
}

// ClaimRewards settles outstanding accrual for the account across the given
// markets (all entered markets if the list is empty) and pays the claimable
// balance from the reward treasury. A claim with nothing accrued is a no-op.
func (e *Engine) ClaimRewards(account common.Address, markets []common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		markets = append([]common.Address(nil), pos.Memberships...)
	}
	for _, addr := range markets {
		m, err := e.listedMarket(addr)
		if err != nil {
			return nil, err
		}
		acct, err := e.accountingFor(addr)
		if err != nil {
			return nil, err
		}
		e.updateSupplyIndex(m, acct)
		e.updateBorrowIndex(m, acct)
		if err := e.distributeSupplierReward(m, acct, account); err != nil {
			return nil, err
		}
		if err := e.distributeBorrowerReward(m, acct, account); err != nil {
			return nil, err
		}
		if err := e.state.PutMarket(m); err != nil {
			return nil, err
		}
	}
	pos, err = e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(pos.Accrued)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if e.treasury == nil {
		return nil, errNilTreasury
	}
	if err := e.treasury.TransferReward(account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientRewardFloat, err)
	}
	pos.Accrued = big.NewInt(0)
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	e.emit(events.RewardsClaimed{Account: account, Amount: amount})
	return amount, nil
}
