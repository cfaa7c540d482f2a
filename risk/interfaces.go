package risk

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceOracle resolves the underlying price of a market, 1e18-mantissa. A nil
// or zero result is always treated as a stale/invalid feed by the engine,
// never as "no value".
type PriceOracle interface {
	GetUnderlyingPrice(market common.Address) *big.Int
}

// MarketAccounting is the read surface every listed market module exposes.
// The engine never mutates market ledgers; it reads them and issues
// allow/deny decisions the market enforces before mutating its own state.
type MarketAccounting interface {
	TotalSupply() *big.Int
	TotalBorrows() *big.Int
	ExchangeRateStored() *big.Int
	BalanceOf(account common.Address) *big.Int
	BorrowBalanceStored(account common.Address) *big.Int
	BorrowIndex() *big.Int
}

// FlashLender is the optional extension a market implements to participate
// in flash loans. TransferOut and RecordBorrow mutate the market's own
// ledger on the engine's instruction; the engine re-reads Cash after the
// receiver callback rather than trusting any cached balance.
type FlashLender interface {
	MarketAccounting
	Cash() *big.Int
	TransferOut(to common.Address, amount *big.Int) error
	RecordBorrow(borrower common.Address, amount *big.Int) error
	AddReserves(amount *big.Int) error
}

// FlashLoanReceiver is the untrusted callback invoked between the borrow and
// repayment legs of a flash loan. The receiver sees all borrowed funds
// simultaneously; a non-nil error fails the whole operation before any
// balance check.
type FlashLoanReceiver interface {
	Address() common.Address
	OnFlashLoan(initiator common.Address, markets []common.Address, amounts, fees []*big.Int) error
}

// AccessControl answers fine-grained permission questions for privileged
// setters. When unset the engine falls back to a single admin principal.
type AccessControl interface {
	IsAllowedToCall(caller common.Address, signature string) bool
}

// RewardTreasury transfers claimed reward tokens. An error (typically
// insufficient float) is surfaced to the claimer; claims are never silently
// truncated.
type RewardTreasury interface {
	TransferReward(to common.Address, amount *big.Int) error
}
