package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// liquidityWeight selects which risk parameter weights collateral during an
// account liquidity calculation. Borrowing power uses the collateral factor;
// liquidation eligibility uses the higher liquidation threshold so that
// positions between the two bands can neither borrow more nor be seized.
type liquidityWeight int

const (
	weightCollateralFactor liquidityWeight = iota
	weightLiquidationThreshold
)

// GetAccountLiquidity returns the account's spare borrowing power and its
// shortfall, both USD-denominated at 1e18 scale. At most one of the two is
// nonzero.
func (e *Engine) GetAccountLiquidity(account common.Address) (*big.Int, *big.Int, error) {
	return e.hypotheticalLiquidity(account, common.Address{}, big.NewInt(0), big.NewInt(0), weightCollateralFactor)
}

// GetHypotheticalAccountLiquidity answers what the account's liquidity and
// shortfall would be after redeeming redeemTokens of the given market and
// additionally borrowing borrowAmount of its underlying.
func (e *Engine) GetHypotheticalAccountLiquidity(account, market common.Address, redeemTokens, borrowAmount *big.Int) (*big.Int, *big.Int, error) {
	if redeemTokens == nil {
		redeemTokens = big.NewInt(0)
	}
	if borrowAmount == nil {
		borrowAmount = big.NewInt(0)
	}
	return e.hypotheticalLiquidity(account, market, redeemTokens, borrowAmount, weightCollateralFactor)
}

// hypotheticalLiquidity walks the account's entered markets and totals
// weighted collateral against borrows, overlaying a hypothetical redeem and
// borrow in a single market. Markets the account never entered contribute
// nothing on either side, but the overlay still counts when the modified
// market is not yet a membership so callers can check before entering.
func (e *Engine) hypotheticalLiquidity(account, modified common.Address, redeemTokens, borrowAmount *big.Int, weight liquidityWeight) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.oracle == nil {
		return nil, nil, errNilOracle
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return nil, nil, err
	}
	sumCollateral := big.NewInt(0)
	sumBorrow := big.NewInt(0)
	modifiedSeen := false
	for _, marketAddr := range pos.Memberships {
		m, err := e.listedMarket(marketAddr)
		if err != nil {
			return nil, nil, err
		}
		acct, err := e.accountingFor(marketAddr)
		if err != nil {
			return nil, nil, err
		}
		price := e.oracle.GetUnderlyingPrice(marketAddr)
		if price == nil || price.Sign() <= 0 {
			return nil, nil, fmt.Errorf("market %s: %w", marketAddr.Hex(), ErrPriceError)
		}
		params, err := e.effectiveParams(pos, m)
		if err != nil {
			return nil, nil, err
		}
		factor := params.CollateralFactor
		if weight == weightLiquidationThreshold {
			factor = params.LiquidationThreshold
		}
		exchangeRate := acct.ExchangeRateStored()
		// tokensToDenom converts market tokens straight to weighted USD.
		tokensToDenom := mulExp(mulExp(factor, exchangeRate), price)

		if tokens := acct.BalanceOf(account); tokens != nil && tokens.Sign() > 0 {
			sumCollateral.Add(sumCollateral, mulScalarTruncate(tokensToDenom, tokens))
		}
		if borrowed := acct.BorrowBalanceStored(account); borrowed != nil && borrowed.Sign() > 0 {
			sumBorrow.Add(sumBorrow, mulScalarTruncate(price, borrowed))
		}
		if marketAddr == modified {
			modifiedSeen = true
			if redeemTokens.Sign() > 0 {
				sumBorrow.Add(sumBorrow, mulScalarTruncate(tokensToDenom, redeemTokens))
			}
			if borrowAmount.Sign() > 0 {
				sumBorrow.Add(sumBorrow, mulScalarTruncate(price, borrowAmount))
			}
		}
	}
	if !modifiedSeen && modified != (common.Address{}) && (redeemTokens.Sign() > 0 || borrowAmount.Sign() > 0) {
		m, err := e.listedMarket(modified)
		if err != nil {
			return nil, nil, err
		}
		acct, err := e.accountingFor(modified)
		if err != nil {
			return nil, nil, err
		}
		price := e.oracle.GetUnderlyingPrice(modified)
		if price == nil || price.Sign() <= 0 {
			return nil, nil, fmt.Errorf("market %s: %w", modified.Hex(), ErrPriceError)
		}
		params, err := e.effectiveParams(pos, m)
		if err != nil {
			return nil, nil, err
		}
		factor := params.CollateralFactor
		if weight == weightLiquidationThreshold {
			factor = params.LiquidationThreshold
		}
		if redeemTokens.Sign() > 0 {
			tokensToDenom := mulExp(mulExp(factor, acct.ExchangeRateStored()), price)
			sumBorrow.Add(sumBorrow, mulScalarTruncate(tokensToDenom, redeemTokens))
		}
		if borrowAmount.Sign() > 0 {
			sumBorrow.Add(sumBorrow, mulScalarTruncate(price, borrowAmount))
		}
	}
	if sumCollateral.Cmp(sumBorrow) >= 0 {
		return new(big.Int).Sub(sumCollateral, sumBorrow), big.NewInt(0), nil
	}
	return big.NewInt(0), new(big.Int).Sub(sumBorrow, sumCollateral), nil
}
