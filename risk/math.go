package risk

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// expScale is the 1e18 mantissa shared by fractions, prices, and
	// exchange rates.
	expScale = mustBigInt("1000000000000000000")
	// doubleScale is the 1e36 mantissa used by reward accrual indices.
	doubleScale = mustBigInt("1000000000000000000000000000000000000")
	// rewardInitialIndex is the fixed starting constant for both reward
	// sides of a freshly listed market.
	rewardInitialIndex = mustBigInt("1000000000000000000000000000000000000")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulExp multiplies two 1e18-mantissa values, truncating to 1e18.
func mulExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, expScale)
}

// mulScalarTruncate scales an integer amount by a 1e18-mantissa fraction.
func mulScalarTruncate(mantissa, scalar *big.Int) *big.Int {
	if mantissa == nil || scalar == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(mantissa, scalar)
	return product.Quo(product, expScale)
}

// divExp divides two 1e18-mantissa values, producing a 1e18-mantissa ratio.
func divExp(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, expScale)
	return numerator.Quo(numerator, b)
}

// fraction expresses a/b at double precision for reward index deltas.
func fraction(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, doubleScale)
	return numerator.Quo(numerator, b)
}

// seizeTokens computes the collateral tokens owed to a liquidator for a given
// repayment:
//
//	seize = repay * borrowedPrice * incentive / (collateralPrice * exchangeRate)
//
// The computation runs on 256-bit words so that extreme inputs fail loudly
// with ErrMathError instead of silently wrapping.
func seizeTokens(repay, borrowedPrice, incentive, collateralPrice, exchangeRate *big.Int) (*big.Int, error) {
	num1, err := toWord(incentive)
	if err != nil {
		return nil, err
	}
	num2, err := toWord(borrowedPrice)
	if err != nil {
		return nil, err
	}
	den1, err := toWord(collateralPrice)
	if err != nil {
		return nil, err
	}
	den2, err := toWord(exchangeRate)
	if err != nil {
		return nil, err
	}
	repayWord, err := toWord(repay)
	if err != nil {
		return nil, err
	}
	scale, _ := uint256.FromBig(expScale)

	numerator, err := mulDivWord(num1, num2, scale)
	if err != nil {
		return nil, err
	}
	denominator, err := mulDivWord(den1, den2, scale)
	if err != nil {
		return nil, err
	}
	if denominator.IsZero() {
		return nil, ErrPriceError
	}
	ratio, err := mulDivWord(numerator, scale, denominator)
	if err != nil {
		return nil, err
	}
	seize, err := mulDivWord(ratio, repayWord, scale)
	if err != nil {
		return nil, err
	}
	return seize.ToBig(), nil
}

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrMathError
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrMathError
	}
	return word, nil
}

// mulDivWord computes a*b/denom, failing with ErrMathError when the product
// does not fit 256 bits.
func mulDivWord(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrMathError
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrMathError
	}
	return product.Div(product, denom), nil
}
