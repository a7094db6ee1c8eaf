package domain

// RejectReason is the closed set of admission outcomes other than acceptance.
type RejectReason string

const (
	ReasonNone             RejectReason = ""
	ReasonStale            RejectReason = "stale"
	ReasonLowLiquidity     RejectReason = "low_liquidity"
	ReasonNoPairs          RejectReason = "no_pairs"
	ReasonLiquidityUnknown RejectReason = "liquidity_unknown"
	ReasonMintUnknown      RejectReason = "mint_unknown"
	ReasonAuthorityActive  RejectReason = "authority_active"
	ReasonNoRoute          RejectReason = "no_route"
	ReasonQuoteUnavailable RejectReason = "quote_unavailable"
	ReasonHighTax          RejectReason = "high_tax"
	ReasonHighImpact       RejectReason = "high_impact"
	ReasonPriceDeviation   RejectReason = "price_deviation"
	ReasonInvalidPrice     RejectReason = "invalid_price"
	ReasonAlreadyHeld      RejectReason = "already_held"
	ReasonExecutionFailed  RejectReason = "execution_failed"
)

// RejectReasons lists every reason except ReasonNone.
var RejectReasons = []RejectReason{
	ReasonStale, ReasonLowLiquidity, ReasonNoPairs, ReasonLiquidityUnknown,
	ReasonMintUnknown, ReasonAuthorityActive, ReasonNoRoute, ReasonQuoteUnavailable,
	ReasonHighTax, ReasonHighImpact, ReasonPriceDeviation, ReasonInvalidPrice,
	ReasonAlreadyHeld, ReasonExecutionFailed,
}

// Deferrable reports whether a rejection may resolve on its own as the token
// matures, making the signal eligible for the watchlist.
func (r RejectReason) Deferrable() bool {
	switch r {
	case ReasonLowLiquidity, ReasonLiquidityUnknown, ReasonNoRoute, ReasonMintUnknown:
		return true
	}
	return false
}

// Valid reports whether r is a known reason.
func (r RejectReason) Valid() bool {
	if r == ReasonNone {
		return true
	}
	for _, known := range RejectReasons {
		if r == known {
			return true
		}
	}
	return false
}
