package vessels

import "errors"

// Input validation.
var (
	ErrZeroAmount       = errors.New("vessels: amount must be positive")
	ErrZeroOwner        = errors.New("vessels: owner address required")
	ErrInvalidAsset     = errors.New("vessels: asset required")
	ErrFeeBoundsInvalid = errors.New("vessels: max fee percentage out of bounds")
	ErrBelowMinNetDebt  = errors.New("vessels: net debt below minimum")
	ErrMintCapExceeded  = errors.New("vessels: mint cap exceeded")
	ErrInvalidSoftening = errors.New("vessels: redemption softening out of bounds")
)

// State preconditions.
var (
	ErrAssetInactive           = errors.New("vessels: collateral asset inactive")
	ErrVesselExists            = errors.New("vessels: vessel already active")
	ErrPositionNotActive       = errors.New("vessels: vessel not active")
	ErrNothingToLiquidate      = errors.New("vessels: nothing to liquidate")
	ErrICRNotBelowThreshold    = errors.New("vessels: vessel ICR not below liquidation threshold")
	ErrLiquidatorNotAuthorized = errors.New("vessels: liquidator not whitelisted")
	ErrRedeemerNotWhitelisted  = errors.New("vessels: redeemer not whitelisted")
	ErrRedemptionNotYetAllowed = errors.New("vessels: redemptions not yet allowed")
	ErrTCRBelowMCR             = errors.New("vessels: TCR below MCR")
	ErrInsufficientBalance     = errors.New("vessels: insufficient debt token balance")
	ErrInsufficientCollateral  = errors.New("vessels: insufficient collateral")
	ErrNoSurplus               = errors.New("vessels: no collateral surplus to claim")
	ErrNoStakeToRedistribute   = errors.New("vessels: no stake to redistribute to")
	ErrUnableToRedeem          = errors.New("vessels: unable to redeem any amount")
	ErrNotConfigured           = errors.New("vessels: engine not configured")
)

// Collateralisation checks on borrower operations.
var (
	ErrICRBelowMCR             = errors.New("vessels: ICR below MCR")
	ErrICRBelowCCR             = errors.New("vessels: ICR below CCR in recovery mode")
	ErrTCRBelowCCR             = errors.New("vessels: operation would push TCR below CCR")
	ErrICRDecreased            = errors.New("vessels: debt increase in recovery mode must not lower ICR")
	ErrCollWithdrawalRecovery  = errors.New("vessels: collateral withdrawal not permitted in recovery mode")
	ErrCloseInRecoveryMode     = errors.New("vessels: closing not permitted in recovery mode")
	ErrRepaymentExceedsNetDebt = errors.New("vessels: repayment exceeds net debt")
)

// Consistency and arithmetic bounds.
var (
	ErrStaleHint                    = errors.New("vessels: partial redemption hint stale")
	ErrFeeExceedsReturnedCollateral = errors.New("vessels: fee would consume all redeemed collateral")
	ErrFeeExceedsMaximum            = errors.New("vessels: fee exceeds max fee percentage")
	errOffsetMismatch               = errors.New("vessels: stability pool offset mismatch")
)
