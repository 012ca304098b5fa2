package core

// BaseSubsidy is the block reward at height 0, before any halving.
const BaseSubsidy uint64 = 3000

// SubsidyHalvingInterval is the number of blocks between successive halvings
// of the block reward.
const SubsidyHalvingInterval uint64 = 210000

// TotalSubsidyCap is the maximum total amount the issuance schedule ever
// mints, approached in the limit as the halving series converges (spec §6).
const TotalSubsidyCap uint64 = 1_260_000_000

// CalcBlockSubsidy returns the block reward for a block at the given
// blue-score height, modeled directly on daglabs-btcd's CalcBlockSubsidy:
// the reward halves every SubsidyHalvingInterval blocks until the shift
// exceeds the width of the type, at which point it is zero.
func CalcBlockSubsidy(height uint64) uint64 {
	halvings := height / SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return BaseSubsidy >> halvings
}
