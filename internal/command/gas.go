package command

import (
	"math"

	"DeFiIntent-Chain/internal/defi"
)

const (
	multiHopGasFactor = 1.5
	leverageGasFactor = 1.3
)

// EstimateGas 返回 gas 估算，信息查询类意图返回 nil。
func EstimateGas(intent defi.Intent, routeHops, leverage float64) *uint64 {
	t, ok := TemplateFor(intent)
	if !ok || intent.IsInformational() || t.BaseGas == 0 {
		return nil
	}
	gas := float64(t.BaseGas)
	if routeHops > 1 {
		gas *= multiHopGasFactor
	}
	if leverage > 1 {
		gas *= leverageGasFactor
	}
	out := uint64(math.Round(gas))
	return &out
}
