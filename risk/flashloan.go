package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

// flashLeg is the per-market bookkeeping of one flash loan.
type flashLeg struct {
	market     *Market
	lender     FlashLender
	amount     *big.Int
	fee        *big.Int
	cashBefore *big.Int
}

// ExecuteFlashLoan lends the requested amounts across one or more markets to
// the receiver, invokes its callback with all funds disbursed, and then
// settles each market. Full settlement requires principal plus fee back in
// cash. A fee shortfall converts into a borrow against onBehalf's collateral
// under the normal borrow checks; a principal shortfall fails the whole call.
// Settlement is two-phase: every leg's repayment is verified before any fee
// routing or borrow recording applies.
func (e *Engine) ExecuteFlashLoan(caller, onBehalf common.Address, receiver FlashLoanReceiver, markets []common.Address, amounts []*big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if receiver == nil || len(markets) == 0 {
		return ErrInvalidFlashLoanParams
	}
	if len(markets) != len(amounts) {
		return fmt.Errorf("%d markets, %d amounts: %w", len(markets), len(amounts), ErrInvalidFlashLoanParams)
	}
	if onBehalf == (common.Address{}) {
		onBehalf = caller
	}
	if !e.flashLoanAuthorized(caller, onBehalf) {
		return ErrSenderNotAuthorized
	}

	legs := make([]flashLeg, 0, len(markets))
	seen := make(map[common.Address]struct{}, len(markets))
	for i, addr := range markets {
		amount := amounts[i]
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("market %s: %w", addr.Hex(), ErrInvalidAmount)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("market %s repeated: %w", addr.Hex(), ErrInvalidFlashLoanParams)
		}
		seen[addr] = struct{}{}
		m, err := e.listedMarket(addr)
		if err != nil {
			return err
		}
		if !m.FlashLoanEnabled {
			return fmt.Errorf("market %s: %w", addr.Hex(), ErrFlashLoanNotEnabled)
		}
		if err := e.checkPaused(m, ActionFlashLoan); err != nil {
			return err
		}
		acct, err := e.accountingFor(addr)
		if err != nil {
			return err
		}
		lender, ok := acct.(FlashLender)
		if !ok {
			return fmt.Errorf("market %s: %w", addr.Hex(), ErrFlashLoanNotEnabled)
		}
		cash := lender.Cash()
		if cash == nil || cash.Cmp(amount) < 0 {
			return fmt.Errorf("market %s: %w", addr.Hex(), ErrInsufficientBalance)
		}
		legs = append(legs, flashLeg{
			market:     m,
			lender:     lender,
			amount:     new(big.Int).Set(amount),
			fee:        mulScalarTruncate(e.flashLoanFee, amount),
			cashBefore: new(big.Int).Set(cash),
		})
	}

	to := receiver.Address()
	fees := make([]*big.Int, len(legs))
	for i, leg := range legs {
		if err := leg.lender.TransferOut(to, leg.amount); err != nil {
			return fmt.Errorf("market %s: %w", leg.market.Address.Hex(), err)
		}
		fees[i] = new(big.Int).Set(leg.fee)
	}
	if err := receiver.OnFlashLoan(caller, markets, amounts, fees); err != nil {
		return fmt.Errorf("%w: %v", ErrExecuteFlashLoanFailed, err)
	}

	// Every leg's repayment is verified before any settlement applies, so a
	// failing leg leaves no fee routed and no borrow recorded anywhere.
	totalFees := big.NewInt(0)
	shortfalls := make([]*big.Int, len(legs))
	for i, leg := range legs {
		short, err := e.verifyFlashRepayment(onBehalf, leg)
		if err != nil {
			return err
		}
		shortfalls[i] = short
		totalFees.Add(totalFees, leg.fee)
	}
	for i, leg := range legs {
		if err := e.applyFlashSettlement(onBehalf, leg, shortfalls[i]); err != nil {
			return err
		}
	}
	e.emit(events.FlashLoanExecuted{
		Initiator: caller,
		OnBehalf:  onBehalf,
		Markets:   append([]common.Address(nil), markets...),
		Amounts:   amounts,
		TotalFees: totalFees,
	})
	return nil
}

// verifyFlashRepayment checks one market's post-callback cash level without
// mutating anything. Cash must be back to at least the pre-loan level plus
// fee; an unpaid fee portion passes when it would clear the normal borrow
// checks against onBehalf's collateral, and anything short of the principal
// fails the call. Returns the fee shortfall to convert into a borrow, or nil
// when the leg repaid in full.
func (e *Engine) verifyFlashRepayment(onBehalf common.Address, leg flashLeg) (*big.Int, error) {
	addr := leg.market.Address
	cashAfter := leg.lender.Cash()
	if cashAfter == nil {
		return nil, fmt.Errorf("market %s: %w", addr.Hex(), ErrNotEnoughRepayment)
	}
	expected := new(big.Int).Add(leg.cashBefore, leg.fee)
	if cashAfter.Cmp(expected) >= 0 {
		return nil, nil
	}
	if cashAfter.Cmp(leg.cashBefore) < 0 {
		return nil, fmt.Errorf("market %s: %w", addr.Hex(), ErrInsufficientBalance)
	}
	shortfall := new(big.Int).Sub(expected, cashAfter)
	if _, _, _, err := e.borrowChecks(addr, onBehalf, shortfall); err != nil {
		return nil, fmt.Errorf("market %s fee shortfall: %w", addr.Hex(), ErrInsufficientBalance)
	}
	return shortfall, nil
}

// applyFlashSettlement records a verified fee-shortfall borrow and routes
// the collected fee between the protocol collector and market reserves.
func (e *Engine) applyFlashSettlement(onBehalf common.Address, leg flashLeg, shortfall *big.Int) error {
	addr := leg.market.Address
	if shortfall != nil {
		if err := e.BorrowAllowed(addr, onBehalf, shortfall); err != nil {
			return fmt.Errorf("market %s fee shortfall: %w", addr.Hex(), ErrInsufficientBalance)
		}
		if err := leg.lender.RecordBorrow(onBehalf, shortfall); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}

	protocolShare := mulScalarTruncate(e.protocolFeeShare, leg.fee)
	if protocolShare.Sign() > 0 && e.feeCollector != (common.Address{}) {
		if err := leg.lender.TransferOut(e.feeCollector, protocolShare); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	if remainder := new(big.Int).Sub(leg.fee, protocolShare); remainder.Sign() > 0 {
		if err := leg.lender.AddReserves(remainder); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

func (e *Engine) flashLoanAuthorized(caller, onBehalf common.Address) bool {
	if e.flashAllowList[caller] {
		return true
	}
	if caller == onBehalf {
		return false
	}
	return e.flashAllowList[onBehalf] && e.flashDelegates[onBehalf][caller]
}

// SetFlashLoanFee updates the 1e18-mantissa fee rate charged per flash loan
// leg.
func (e *Engine) SetFlashLoanFee(caller common.Address, fee *big.Int) error {
	if err := e.authorize(caller, "setFlashLoanFee"); err != nil {
		return err
	}
	if fee == nil || fee.Sign() < 0 || fee.Cmp(expScale) >= 0 {
		return ErrInvalidParameter
	}
	if e.flashLoanFee.Cmp(fee) == 0 {
		return ErrNoOpUpdate
	}
	e.flashLoanFee = new(big.Int).Set(fee)
	return nil
}

// SetProtocolFeeShare updates the 1e18-mantissa share of each collected fee
// routed to the fee collector instead of market reserves.
func (e *Engine) SetProtocolFeeShare(caller common.Address, share *big.Int) error {
	if err := e.authorize(caller, "setProtocolFeeShare"); err != nil {
		return err
	}
	if share == nil || share.Sign() < 0 || share.Cmp(expScale) > 0 {
		return ErrInvalidParameter
	}
	if e.protocolFeeShare.Cmp(share) == 0 {
		return ErrNoOpUpdate
	}
	e.protocolFeeShare = new(big.Int).Set(share)
	return nil
}

// SetFeeCollector updates the protocol reserve collector address.
func (e *Engine) SetFeeCollector(caller, collector common.Address) error {
	if err := e.authorize(caller, "setFeeCollector"); err != nil {
		return err
	}
	if collector == (common.Address{}) {
		return ErrZeroAddress
	}
	if e.feeCollector == collector {
		return ErrNoOpUpdate
	}
	e.feeCollector = collector
	return nil
}

// SetFlashLoanAllowList adds or removes initiators from the flash loan allow
// list. Entries already in the requested state are silent no-ops.
func (e *Engine) SetFlashLoanAllowList(caller common.Address, initiators []common.Address, allowed bool) error {
	if err := e.authorize(caller, "setFlashLoanAllowList"); err != nil {
		return err
	}
	for _, addr := range initiators {
		if addr == (common.Address{}) {
			return ErrZeroAddress
		}
	}
	for _, addr := range initiators {
		if allowed {
			e.flashAllowList[addr] = true
		} else {
			delete(e.flashAllowList, addr)
		}
	}
	return nil
}

// ApproveFlashLoanDelegate lets owner authorize or revoke a delegate that may
// initiate flash loans on its behalf. Owner calls this directly; no admin
// permission is involved.
func (e *Engine) ApproveFlashLoanDelegate(owner, delegate common.Address, approved bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if owner == (common.Address{}) || delegate == (common.Address{}) {
		return ErrZeroAddress
	}
	if delegate == owner {
		return ErrInvalidParameter
	}
	current := e.flashDelegates[owner][delegate]
	if current == approved {
		return ErrNoOpUpdate
	}
	if approved {
		if e.flashDelegates[owner] == nil {
			e.flashDelegates[owner] = make(map[common.Address]bool)
		}
		e.flashDelegates[owner][delegate] = true
		return nil
	}
	delete(e.flashDelegates[owner], delegate)
	if len(e.flashDelegates[owner]) == 0 {
		delete(e.flashDelegates, owner)
	}
	return nil
}
