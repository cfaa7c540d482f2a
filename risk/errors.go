package risk

import (
	"errors"
	"fmt"
)

// Code identifies an expected business-rule outcome returned to market
// modules. Codes cover the frequent, recoverable denials (caps, pauses,
// shortfall, prices); malformed input and configuration mistakes are raised
// as plain errors instead and always abort the whole action.
type Code uint8

const (
	// NoError is the zero code carried by nil errors.
	NoError Code = iota
	// PriceError marks a zero or unavailable oracle price. A zero price is
	// never treated as "no value"; it is treated as stale data.
	PriceError
	// MarketNotListed marks an operation against an unlisted market.
	MarketNotListed
	// ActionPaused marks an action rejected by the pause bitmap.
	ActionPaused
	// InsufficientLiquidity marks a hypothetical redeem/borrow that would
	// push the account into shortfall.
	InsufficientLiquidity
	// InsufficientShortfall marks a liquidation attempt against a healthy
	// account.
	InsufficientShortfall
	// TooMuchRepay marks a forced liquidation repaying more than the
	// account's outstanding borrow.
	TooMuchRepay
	// SupplyCapReached marks a mint that would exceed the supply cap.
	SupplyCapReached
	// BorrowCapReached marks a borrow that would exceed the borrow cap.
	BorrowCapReached
	// BorrowNotAllowed marks a borrow in a market whose effective pool
	// parameters disallow borrowing.
	BorrowNotAllowed
	// NonzeroBorrowBalance marks a market exit while debt is outstanding.
	NonzeroBorrowBalance
	// AlreadyInSelectedPool marks a pool switch to the current pool.
	AlreadyInSelectedPool
	// IncompatibleBorrowedAssets marks a pool switch while borrowing a
	// market the destination pool disallows borrowing.
	IncompatibleBorrowedAssets
	// FlashLoanNotEnabled marks a flash loan against a market without the
	// flash-loan flag.
	FlashLoanNotEnabled
	// SenderNotAuthorizedForFlashLoan marks a flash loan initiated by a
	// caller outside the allow list.
	SenderNotAuthorizedForFlashLoan
	// ExecuteFlashLoanFailed marks a receiver callback reporting failure.
	ExecuteFlashLoanFailed
	// NotEnoughRepayment marks a flash-loan fee shortfall that could not be
	// converted into a borrow position.
	NotEnoughRepayment
	// InsufficientBalance marks a flash-loan repayment below principal.
	InsufficientBalance
	// InsufficientRewardFloat marks a reward claim the treasury could not
	// cover.
	InsufficientRewardFloat
	// MathError marks arithmetic overflow on extreme inputs.
	MathError
	// AccessDenied marks a privileged call from an unauthorized principal.
	AccessDenied
)

var codeNames = map[Code]string{
	NoError:                         "NO_ERROR",
	PriceError:                      "PRICE_ERROR",
	MarketNotListed:                 "MARKET_NOT_LISTED",
	ActionPaused:                    "ACTION_PAUSED",
	InsufficientLiquidity:           "INSUFFICIENT_LIQUIDITY",
	InsufficientShortfall:           "INSUFFICIENT_SHORTFALL",
	TooMuchRepay:                    "TOO_MUCH_REPAY",
	SupplyCapReached:                "SUPPLY_CAP_REACHED",
	BorrowCapReached:                "BORROW_CAP_REACHED",
	BorrowNotAllowed:                "BORROW_NOT_ALLOWED",
	NonzeroBorrowBalance:            "NONZERO_BORROW_BALANCE",
	AlreadyInSelectedPool:           "ALREADY_IN_SELECTED_POOL",
	IncompatibleBorrowedAssets:      "INCOMPATIBLE_BORROWED_ASSETS",
	FlashLoanNotEnabled:             "FLASH_LOAN_NOT_ENABLED",
	SenderNotAuthorizedForFlashLoan: "SENDER_NOT_AUTHORIZED_FOR_FLASH_LOAN",
	ExecuteFlashLoanFailed:          "EXECUTE_FLASH_LOAN_FAILED",
	NotEnoughRepayment:              "NOT_ENOUGH_REPAYMENT",
	InsufficientBalance:             "INSUFFICIENT_BALANCE",
	InsufficientRewardFloat:         "INSUFFICIENT_REWARD_FLOAT",
	MathError:                       "MATH_ERROR",
	AccessDenied:                    "ACCESS_DENIED",
}

// String renders the stable wire name of the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", uint8(c))
}

// Error is a business-rule denial carrying a Code. Callers branch on the code
// via CodeOf or compare against the exported sentinel values with errors.Is.
type Error struct {
	code Code
	msg  string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// RiskCode returns the business code for the denial.
func (e *Error) RiskCode() Code { return e.code }

// Is reports code equality so wrapped denials still match their sentinel.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.code == other.code
}

func newError(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Sentinel instances for every business code. Operations either return these
// directly or wrap them with fmt.Errorf("...: %w", ...) for extra context.
var (
	ErrPriceError                 = newError(PriceError, "risk: oracle price unavailable")
	ErrMarketNotListed            = newError(MarketNotListed, "risk: market not listed")
	ErrActionPaused               = newError(ActionPaused, "risk: action paused")
	ErrInsufficientLiquidity      = newError(InsufficientLiquidity, "risk: insufficient account liquidity")
	ErrInsufficientShortfall      = newError(InsufficientShortfall, "risk: borrower not in shortfall")
	ErrTooMuchRepay               = newError(TooMuchRepay, "risk: repay exceeds outstanding borrow")
	ErrSupplyCapReached           = newError(SupplyCapReached, "risk: supply cap reached")
	ErrBorrowCapReached           = newError(BorrowCapReached, "risk: borrow cap reached")
	ErrBorrowNotAllowed           = newError(BorrowNotAllowed, "risk: borrowing disabled for market in pool")
	ErrNonzeroBorrowBalance       = newError(NonzeroBorrowBalance, "risk: outstanding borrow balance")
	ErrAlreadyInSelectedPool      = newError(AlreadyInSelectedPool, "risk: account already in selected pool")
	ErrIncompatibleBorrowedAssets = newError(IncompatibleBorrowedAssets, "risk: borrowed assets incompatible with destination pool")
	ErrFlashLoanNotEnabled        = newError(FlashLoanNotEnabled, "risk: flash loans not enabled for market")
	ErrSenderNotAuthorized        = newError(SenderNotAuthorizedForFlashLoan, "risk: sender not authorized for flash loan")
	ErrExecuteFlashLoanFailed     = newError(ExecuteFlashLoanFailed, "risk: flash loan receiver reported failure")
	ErrNotEnoughRepayment         = newError(NotEnoughRepayment, "risk: flash loan fee not repaid")
	ErrInsufficientBalance        = newError(InsufficientBalance, "risk: flash loan principal not repaid")
	ErrInsufficientRewardFloat    = newError(InsufficientRewardFloat, "risk: reward treasury float insufficient")
	ErrMathError                  = newError(MathError, "risk: arithmetic overflow")
	ErrAccessDenied               = newError(AccessDenied, "risk: access denied")
)

// CodeOf extracts the business code carried by err, or NoError when err is
// nil or a hard fault.
func CodeOf(err error) Code {
	if err == nil {
		return NoError
	}
	var re *Error
	if errors.As(err, &re) {
		return re.code
	}
	return NoError
}

// Hard faults. These mark malformed input or configuration mistakes; they are
// programmer errors, never expected during normal operation, and always abort
// the entire action.
var (
	ErrAlreadyListed               = errors.New("risk: market already listed")
	ErrNotAMarket                  = errors.New("risk: candidate does not implement market accounting")
	ErrActionsNotPaused            = errors.New("risk: all market actions must be paused")
	ErrEmptyPoolLabel              = errors.New("risk: pool label must not be blank")
	ErrArrayLengthMismatch         = errors.New("risk: array length mismatch")
	ErrPoolDoesNotExist            = errors.New("risk: pool does not exist")
	ErrPoolNotActive               = errors.New("risk: pool is not active")
	ErrInvalidOperationForCorePool = errors.New("risk: operation not permitted on the core pool")
	ErrMarketNotListedInCorePool   = errors.New("risk: market not listed in the core pool")
	ErrMarketAlreadyInPool         = errors.New("risk: market already belongs to pool")
	ErrPoolMarketNotFound          = errors.New("risk: pool market membership not found")
	ErrZeroAddress                 = errors.New("risk: zero address")
	ErrInvalidParameter            = errors.New("risk: invalid risk parameter")
	ErrInvalidAmount               = errors.New("risk: amount must be positive")
	ErrInvalidFlashLoanParams      = errors.New("risk: invalid flash loan parameters")
	ErrNoOpUpdate                  = errors.New("risk: new value identical to current value")

	errNilState    = errors.New("risk: state not configured")
	errNilOracle   = errors.New("risk: price oracle not configured")
	errNilTreasury = errors.New("risk: reward treasury not configured")
)
