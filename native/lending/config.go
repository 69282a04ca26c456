package lending

// Config captures the runtime configuration for the lending module as it
// appears in the protocol's TOML configuration file. Zero-valued fields fall
// back to the protocol defaults so a partial [lending] table stays valid.
type Config struct {
	BaseCollateralRatioBps    uint64 `toml:"BaseCollateralRatioBps"`
	MinCollateralRatioBps     uint64 `toml:"MinCollateralRatioBps"`
	MaxReputationDiscountBps  uint64 `toml:"MaxReputationDiscountBps"`
	ReputationToDiscountRatio uint64 `toml:"ReputationToDiscountRatio"`
	LoanInterestRateBps       uint64 `toml:"LoanInterestRateBps"`
	ProtocolFeeBps            uint64 `toml:"ProtocolFeeBps"`
	StakerInterestShareBps    uint64 `toml:"StakerInterestShareBps"`
	LiquidationThresholdBps   uint64 `toml:"LiquidationThresholdBps"`
	StakerBonusBps            uint64 `toml:"StakerBonusBps"`
}

// Params converts the configuration into an engine parameter set, filling
// unset fields from DefaultParams.
func (c Config) Params() Params {
	params := DefaultParams()
	if c.BaseCollateralRatioBps > 0 {
		params.BaseCollateralRatioBps = c.BaseCollateralRatioBps
	}
	if c.MinCollateralRatioBps > 0 {
		params.MinCollateralRatioBps = c.MinCollateralRatioBps
	}
	if c.MaxReputationDiscountBps > 0 {
		params.MaxReputationDiscountBps = c.MaxReputationDiscountBps
	}
	if c.ReputationToDiscountRatio > 0 {
		params.ReputationToDiscountRatio = c.ReputationToDiscountRatio
	}
	if c.LoanInterestRateBps > 0 {
		params.LoanInterestRateBps = c.LoanInterestRateBps
	}
	if c.ProtocolFeeBps > 0 {
		params.ProtocolFeeBps = c.ProtocolFeeBps
	}
	if c.StakerInterestShareBps > 0 {
		params.StakerInterestShareBps = c.StakerInterestShareBps
	}
	if c.LiquidationThresholdBps > 0 {
		params.LiquidationThresholdBps = c.LiquidationThresholdBps
	}
	if c.StakerBonusBps > 0 {
		params.StakerBonusBps = c.StakerBonusBps
	}
	return params
}
