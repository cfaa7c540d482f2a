package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

type mockFlashLender struct {
	*mockAccounting
	cash     *big.Int
	reserves *big.Int
}

func newMockFlashLender(cash *big.Int) *mockFlashLender {
	return &mockFlashLender{
		mockAccounting: newMockAccounting(),
		cash:           new(big.Int).Set(cash),
		reserves:       big.NewInt(0),
	}
}

func (l *mockFlashLender) Cash() *big.Int { return new(big.Int).Set(l.cash) }

func (l *mockFlashLender) TransferOut(_ common.Address, amount *big.Int) error {
	if l.cash.Cmp(amount) < 0 {
		return errors.New("cash exhausted")
	}
	l.cash.Sub(l.cash, amount)
	return nil
}

func (l *mockFlashLender) RecordBorrow(borrower common.Address, amount *big.Int) error {
	current := l.borrows[borrower]
	if current == nil {
		current = big.NewInt(0)
	}
	l.setBorrow(borrower, new(big.Int).Add(current, amount))
	return nil
}

func (l *mockFlashLender) AddReserves(amount *big.Int) error {
	l.reserves.Add(l.reserves, amount)
	return nil
}

func (l *mockFlashLender) repay(amount *big.Int) {
	l.cash.Add(l.cash, amount)
}

type mockFlashReceiver struct {
	addr     common.Address
	callback func(initiator common.Address, markets []common.Address, amounts, fees []*big.Int) error
	calls    int
}

func (r *mockFlashReceiver) Address() common.Address { return r.addr }

func (r *mockFlashReceiver) OnFlashLoan(initiator common.Address, markets []common.Address, amounts, fees []*big.Int) error {
	r.calls++
	if r.callback == nil {
		return nil
	}
	return r.callback(initiator, markets, amounts, fees)
}

// listFlashMarket lists a flash-enabled market backed by a lender mock.
func listFlashMarket(t *testing.T, engine *Engine, oracle *mockOracle, addr common.Address, cash *big.Int) *mockFlashLender {
	t.Helper()
	lender := newMockFlashLender(cash)
	if err := engine.ListMarket(testAdmin, addr, lender); err != nil {
		t.Fatalf("list market: %v", err)
	}
	if err := engine.SetLiquidationThreshold(testAdmin, addr, pct(80)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if err := engine.SetCollateralFactor(testAdmin, addr, pct(75)); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}
	hugeCap := new(big.Int).Mul(big.NewInt(1_000_000), expScale)
	if err := engine.SetSupplyCap(testAdmin, addr, hugeCap); err != nil {
		t.Fatalf("set supply cap: %v", err)
	}
	if err := engine.SetBorrowCap(testAdmin, addr, hugeCap); err != nil {
		t.Fatalf("set borrow cap: %v", err)
	}
	if err := engine.SetFlashLoanEnabled(testAdmin, addr, true); err != nil {
		t.Fatalf("enable flash loans: %v", err)
	}
	oracle.prices[addr] = new(big.Int).Set(expScale)
	return lender
}

func TestFlashLoanHappyPathRoutesFees(t *testing.T) {
	engine, oracle, emitter := newTestEngine(t)
	market := makeAddress(0x01)
	lender := listFlashMarket(t, engine, oracle, market, units(1000))
	initiator := makeAddress(0x02)
	collector := makeAddress(0xFC)

	if err := engine.SetFlashLoanFee(testAdmin, pct(1)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := engine.SetProtocolFeeShare(testAdmin, pct(50)); err != nil {
		t.Fatalf("set share: %v", err)
	}
	if err := engine.SetFeeCollector(testAdmin, collector); err != nil {
		t.Fatalf("set collector: %v", err)
	}
	if err := engine.SetFlashLoanAllowList(testAdmin, []common.Address{initiator}, true); err != nil {
		t.Fatalf("allow: %v", err)
	}

	receiver := &mockFlashReceiver{
		addr: makeAddress(0x03),
		callback: func(_ common.Address, _ []common.Address, amounts, fees []*big.Int) error {
			lender.repay(new(big.Int).Add(amounts[0], fees[0]))
			return nil
		},
	}
	amounts := []*big.Int{units(100)}
	if err := engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{market}, amounts); err != nil {
		t.Fatalf("flash loan: %v", err)
	}
	if receiver.calls != 1 {
		t.Fatalf("expected one callback, got %d", receiver.calls)
	}
	// Fee is 1 unit: half to the collector, half to reserves. The collector
	// payout leaves the market's cash.
	halfFee := new(big.Int).Div(units(1), big.NewInt(2))
	if lender.reserves.Cmp(halfFee) != 0 {
		t.Fatalf("expected half fee in reserves, got %s", lender.reserves)
	}
	expectedCash := new(big.Int).Add(units(1000), units(1))
	expectedCash.Sub(expectedCash, halfFee)
	if lender.cash.Cmp(expectedCash) != 0 {
		t.Fatalf("expected cash %s, got %s", expectedCash, lender.cash)
	}
	executed := emitter.typed(events.TypeFlashLoanExecuted)
	if len(executed) != 1 {
		t.Fatalf("expected 1 flash loan event, got %d", len(executed))
	}
	evt := executed[0].(events.FlashLoanExecuted)
	if evt.TotalFees.Cmp(units(1)) != 0 {
		t.Fatalf("expected total fees 1, got %s", evt.TotalFees)
	}
}

// The two-asset scenario: the receiver repays principal plus fee for the
// first market but bare principal for the second. Without collateral the
// whole call fails; with collateral the unpaid fee becomes a borrow.
func TestFlashLoanFeeShortfallConvertsToBorrow(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	first := makeAddress(0x01)
	second := makeAddress(0x02)
	firstLender := listFlashMarket(t, engine, oracle, first, units(1000))
	secondLender := listFlashMarket(t, engine, oracle, second, units(1000))
	initiator := makeAddress(0x03)

	if err := engine.SetFlashLoanFee(testAdmin, pct(1)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := engine.SetFlashLoanAllowList(testAdmin, []common.Address{initiator}, true); err != nil {
		t.Fatalf("allow: %v", err)
	}
	receiver := &mockFlashReceiver{
		addr: makeAddress(0x04),
		callback: func(_ common.Address, _ []common.Address, amounts, fees []*big.Int) error {
			firstLender.repay(new(big.Int).Add(amounts[0], fees[0]))
			secondLender.repay(amounts[1])
			return nil
		},
	}
	markets := []common.Address{first, second}
	amounts := []*big.Int{units(100), units(100)}

	err := engine.ExecuteFlashLoan(initiator, initiator, receiver, markets, amounts)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance without collateral, got %v", err)
	}
	// The failed call must not have settled the first leg either: no fee in
	// its reserves and no borrow recorded anywhere.
	if firstLender.reserves.Sign() != 0 {
		t.Fatalf("failed flash loan routed a fee: %s", firstLender.reserves)
	}
	if secondLender.BorrowBalanceStored(initiator).Sign() != 0 {
		t.Fatalf("failed flash loan recorded a borrow")
	}

	// Give the initiator collateral in the first market and retry.
	firstLender.setBalance(initiator, units(500))
	if err := engine.EnterMarkets(initiator, []common.Address{first}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := engine.ExecuteFlashLoan(initiator, initiator, receiver, markets, amounts); err != nil {
		t.Fatalf("flash loan with collateral: %v", err)
	}
	borrowed := secondLender.BorrowBalanceStored(initiator)
	if borrowed.Cmp(units(1)) != 0 {
		t.Fatalf("expected fee shortfall of 1 recorded as borrow, got %s", borrowed)
	}
	// The converted fee accrues to reserves like a paid one, and the first
	// leg's fee lands only now.
	if secondLender.reserves.Cmp(units(1)) != 0 {
		t.Fatalf("expected full fee in reserves, got %s", secondLender.reserves)
	}
	if firstLender.reserves.Cmp(units(1)) != 0 {
		t.Fatalf("expected first leg fee in reserves, got %s", firstLender.reserves)
	}
}

func TestFlashLoanPrincipalShortfallFails(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	lender := listFlashMarket(t, engine, oracle, market, units(1000))
	initiator := makeAddress(0x02)

	if err := engine.SetFlashLoanAllowList(testAdmin, []common.Address{initiator}, true); err != nil {
		t.Fatalf("allow: %v", err)
	}
	lender.setBalance(initiator, units(500))
	if err := engine.EnterMarkets(initiator, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	receiver := &mockFlashReceiver{
		addr: makeAddress(0x03),
		callback: func(_ common.Address, _ []common.Address, amounts, _ []*big.Int) error {
			lender.repay(new(big.Int).Sub(amounts[0], units(1)))
			return nil
		},
	}
	err := engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{market}, []*big.Int{units(100)})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestFlashLoanReceiverFailureAborts(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	listFlashMarket(t, engine, oracle, market, units(1000))
	initiator := makeAddress(0x02)

	if err := engine.SetFlashLoanAllowList(testAdmin, []common.Address{initiator}, true); err != nil {
		t.Fatalf("allow: %v", err)
	}
	receiver := &mockFlashReceiver{
		addr: makeAddress(0x03),
		callback: func(common.Address, []common.Address, []*big.Int, []*big.Int) error {
			return errors.New("strategy reverted")
		},
	}
	err := engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{market}, []*big.Int{units(100)})
	if !errors.Is(err, ErrExecuteFlashLoanFailed) {
		t.Fatalf("expected ErrExecuteFlashLoanFailed, got %v", err)
	}
}

func TestFlashLoanPreconditions(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	enabled := makeAddress(0x01)
	listFlashMarket(t, engine, oracle, enabled, units(1000))
	plain := makeAddress(0x02)
	listTestMarket(t, engine, oracle, plain)
	initiator := makeAddress(0x03)
	receiver := &mockFlashReceiver{addr: makeAddress(0x04)}

	err := engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{enabled}, []*big.Int{units(1)})
	if !errors.Is(err, ErrSenderNotAuthorized) {
		t.Fatalf("expected ErrSenderNotAuthorized, got %v", err)
	}
	if err := engine.SetFlashLoanAllowList(testAdmin, []common.Address{initiator}, true); err != nil {
		t.Fatalf("allow: %v", err)
	}

	err = engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{plain}, []*big.Int{units(1)})
	if !errors.Is(err, ErrFlashLoanNotEnabled) {
		t.Fatalf("expected ErrFlashLoanNotEnabled, got %v", err)
	}
	err = engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{enabled}, []*big.Int{units(1), units(2)})
	if !errors.Is(err, ErrInvalidFlashLoanParams) {
		t.Fatalf("expected ErrInvalidFlashLoanParams, got %v", err)
	}
	err = engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{enabled, enabled}, []*big.Int{units(1), units(2)})
	if !errors.Is(err, ErrInvalidFlashLoanParams) {
		t.Fatalf("expected ErrInvalidFlashLoanParams for duplicate market, got %v", err)
	}
	err = engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{enabled}, []*big.Int{big.NewInt(0)})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := engine.SetActionsPaused(testAdmin, []common.Address{enabled}, []Action{ActionFlashLoan}, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err = engine.ExecuteFlashLoan(initiator, initiator, receiver, []common.Address{enabled}, []*big.Int{units(1)})
	if !errors.Is(err, ErrActionPaused) {
		t.Fatalf("expected ErrActionPaused, got %v", err)
	}
	if receiver.calls != 0 {
		t.Fatalf("receiver must not be invoked on failed preconditions")
	}
}

func TestFlashLoanDelegateAuthorization(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	lender := listFlashMarket(t, engine, oracle, market, units(1000))
	owner := makeAddress(0x02)
	delegate := makeAddress(0x03)

	if err := engine.SetFlashLoanAllowList(testAdmin, []common.Address{owner}, true); err != nil {
		t.Fatalf("allow: %v", err)
	}
	receiver := &mockFlashReceiver{
		addr: makeAddress(0x04),
		callback: func(_ common.Address, _ []common.Address, amounts, fees []*big.Int) error {
			lender.repay(new(big.Int).Add(amounts[0], fees[0]))
			return nil
		},
	}

	err := engine.ExecuteFlashLoan(delegate, owner, receiver, []common.Address{market}, []*big.Int{units(1)})
	if !errors.Is(err, ErrSenderNotAuthorized) {
		t.Fatalf("expected ErrSenderNotAuthorized before approval, got %v", err)
	}
	if err := engine.ApproveFlashLoanDelegate(owner, delegate, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.ApproveFlashLoanDelegate(owner, delegate, true); !errors.Is(err, ErrNoOpUpdate) {
		t.Fatalf("expected ErrNoOpUpdate on repeat approval, got %v", err)
	}
	if err := engine.ExecuteFlashLoan(delegate, owner, receiver, []common.Address{market}, []*big.Int{units(1)}); err != nil {
		t.Fatalf("delegate flash loan: %v", err)
	}
	if err := engine.ApproveFlashLoanDelegate(owner, delegate, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err = engine.ExecuteFlashLoan(delegate, owner, receiver, []common.Address{market}, []*big.Int{units(1)})
	if !errors.Is(err, ErrSenderNotAuthorized) {
		t.Fatalf("expected ErrSenderNotAuthorized after revocation, got %v", err)
	}
}
