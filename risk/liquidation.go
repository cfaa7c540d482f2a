package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// forcedLiquidation reports whether the liquidator may bypass the shortfall
// requirement for the borrowed market, either through the market-wide flag or
// a per-liquidator grant. The market struct is nil for the stablecoin
// controller, which only supports per-liquidator grants.
func (e *Engine) forcedLiquidation(liquidator, borrowedMarket common.Address, m *Market) bool {
	if m != nil && m.ForcedLiquidationEnabled {
		return true
	}
	return e.forcedLiquidators[forcedLiquidationKey{liquidator: liquidator, market: borrowedMarket}]
}

// LiquidateBorrowAllowed is consulted before a liquidator repays a borrow on
// a delinquent account. On the normal path the borrower must carry a
// threshold-weighted shortfall. Under forced liquidation the shortfall check
// is skipped and the repayment is instead capped at the borrower's full
// outstanding balance. The borrowed side may be the stablecoin controller,
// which is exempt from the listed check.
func (e *Engine) LiquidateBorrowAllowed(borrowedMarket, collateralMarket, liquidator, borrower common.Address, repayAmount *big.Int) error {
	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	cm, err := e.listedMarket(collateralMarket)
	if err != nil {
		return err
	}
	if err := e.checkPaused(cm, ActionLiquidate); err != nil {
		return err
	}
	var bm *Market
	if borrowedMarket != e.stablecoinController {
		bm, err = e.listedMarket(borrowedMarket)
		if err != nil {
			return err
		}
		if err := e.checkPaused(bm, ActionLiquidate); err != nil {
			return err
		}
	}
	if e.forcedLiquidation(liquidator, borrowedMarket, bm) {
		acct, err := e.accountingFor(borrowedMarket)
		if err != nil {
			return err
		}
		borrowed := acct.BorrowBalanceStored(borrower)
		if borrowed == nil || repayAmount.Cmp(borrowed) > 0 {
			return ErrTooMuchRepay
		}
		return nil
	}
	_, shortfall, err := e.hypotheticalLiquidity(borrower, common.Address{}, big.NewInt(0), big.NewInt(0), weightLiquidationThreshold)
	if err != nil {
		return err
	}
	if shortfall.Sign() == 0 {
		return ErrInsufficientShortfall
	}
	return nil
}

// LiquidateCalculateSeizeTokens converts a repayment in the borrowed market's
// underlying into the number of collateral market tokens owed to the
// liquidator, applying the liquidation incentive effective in the borrower's
// pool:
//
//	seize = repay * borrowedPrice * incentive / (collateralPrice * exchangeRate)
func (e *Engine) LiquidateCalculateSeizeTokens(borrowedMarket, collateralMarket, borrower common.Address, repayAmount *big.Int) (*big.Int, error) {
	if repayAmount == nil || repayAmount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	cm, err := e.listedMarket(collateralMarket)
	if err != nil {
		return nil, err
	}
	borrowedPrice := e.price(borrowedMarket)
	collateralPrice := e.price(collateralMarket)
	if borrowedPrice == nil || collateralPrice == nil {
		return nil, fmt.Errorf("seize pricing: %w", ErrPriceError)
	}
	acct, err := e.accountingFor(collateralMarket)
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(borrower)
	if err != nil {
		return nil, err
	}
	params, err := e.effectiveParams(pos, cm)
	if err != nil {
		return nil, err
	}
	return seizeTokens(repayAmount, borrowedPrice, params.LiquidationIncentive, collateralPrice, acct.ExchangeRateStored())
}
