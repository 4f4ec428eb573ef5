package command

import (
	"fmt"
	"math"
	"strings"

	"DeFiIntent-Chain/internal/defi"
)

// 校验结果代码。
const (
	CodeMissingParameter     = "MISSING_PARAMETER"
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodeSameToken            = "SAME_TOKEN"
	CodeUnknownToken         = "UNKNOWN_TOKEN"
	CodeHighLeverage         = "HIGH_LEVERAGE"
	CodeHighSlippage         = "HIGH_SLIPPAGE"
	CodeHighPriceImpact      = "HIGH_PRICE_IMPACT"
	CodeLowHealthFactor      = "LOW_HEALTH_FACTOR"
	CodeUnknownProtocol      = "UNKNOWN_PROTOCOL"
	CodeProtocolMismatch     = "PROTOCOL_CATEGORY_MISMATCH"
	CodeUnsupportedChain     = "UNSUPPORTED_CHAIN"
	CodeNotPreferredProtocol = "NOT_PREFERRED_PROTOCOL"
	CodeHighRisk             = "HIGH_RISK"
	CodeApprovalRequired     = "APPROVAL_REQUIRED"
)

const (
	leverageWarnAbove     = 5.0
	slippageWarnAbove     = 5.0
	priceImpactWarnAbove  = 5.0
	healthFactorWarnBelow = 1.5
)

// Validator 对参数做字段级校验，结果总是被收集而不是返回错误。
type Validator struct {
	catalog *defi.Catalog
}

// NewValidator 创建校验器，catalog 为空时使用内置目录。
func NewValidator(catalog *defi.Catalog) *Validator {
	if catalog == nil {
		catalog = defi.DefaultCatalog()
	}
	return &Validator{catalog: catalog}
}

// Validate 校验已抽取的参数与派生参数。
func (v *Validator) Validate(parsed *ParsedCommand, derived *defi.ParamSet, pctx *defi.ParsingContext) defi.ValidationErrors {
	var out defi.ValidationErrors
	add := func(field defi.ParamName, code string, sev defi.Severity, format string, args ...any) {
		out = append(out, defi.ValidationError{
			Field:    string(field),
			Code:     code,
			Message:  fmt.Sprintf(format, args...),
			Severity: sev,
		})
	}
	params := parsed.Parameters()
	tmpl := parsed.Template

	if amount, ok := params.Number(defi.ParamAmount); ok {
		switch {
		case math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0:
			add(defi.ParamAmount, CodeInvalidAmount, defi.SeverityError, "amount must be greater than zero")
		case tmpl.SpendsBalance:
			symbol, ok := parsed.SourceToken()
			unit, _ := parsed.AmountToken()
			spend := amount
			if ok && !strings.EqualFold(symbol, unit) {
				// 按输出数量兑换时用估算的支出数量比较余额。
				spend, ok = derived.Number(defi.ParamInputAmount)
			}
			if ok {
				if balance, known := pctx.Balance(symbol); known && spend > balance {
					add(defi.ParamAmount, CodeInsufficientBalance, defi.SeverityError,
						"amount %s exceeds available %s balance of %s", formatAmount(spend), symbol, formatAmount(balance))
				}
			}
		}
	}

	for _, slot := range tmpl.TokenSlots {
		if symbol, ok := params.Text(slot); ok {
			if _, known := v.catalog.Token(symbol); !known {
				add(slot, CodeUnknownToken, defi.SeverityError, "unknown token %s", symbol)
			}
		}
	}
	if from, ok := params.Text(defi.ParamFromToken); ok {
		if to, ok := params.Text(defi.ParamToToken); ok && strings.EqualFold(from, to) {
			add(defi.ParamToToken, CodeSameToken, defi.SeverityError, "cannot %s %s into itself", tmpl.Action, from)
		}
	}
	if asset, ok := params.Text(defi.ParamAsset); ok {
		if collateral, ok := params.Text(defi.ParamCollateralAsset); ok && strings.EqualFold(asset, collateral) {
			add(defi.ParamCollateralAsset, CodeSameToken, defi.SeverityWarning, "borrowing %s against itself", asset)
		}
	}

	if leverage, ok := params.Number(defi.ParamLeverage); ok && leverage > leverageWarnAbove {
		add(defi.ParamLeverage, CodeHighLeverage, defi.SeverityWarning,
			"leverage %sx is above %sx and increases liquidation risk", formatAmount(leverage), formatAmount(leverageWarnAbove))
	}
	if slippage, ok := params.Number(defi.ParamSlippage); ok && slippage > slippageWarnAbove {
		add(defi.ParamSlippage, CodeHighSlippage, defi.SeverityWarning,
			"slippage tolerance %s%% is above %s%%", formatAmount(slippage), formatAmount(slippageWarnAbove))
	}
	if impact, ok := derived.Number(defi.ParamPriceImpact); ok && impact > priceImpactWarnAbove {
		add(defi.ParamPriceImpact, CodeHighPriceImpact, defi.SeverityWarning,
			"estimated price impact %.2f%% is above %s%%", impact, formatAmount(priceImpactWarnAbove))
	}
	if hf, ok := derived.Number(defi.ParamProjectedHealthFactor); ok && hf < healthFactorWarnBelow {
		add(defi.ParamProjectedHealthFactor, CodeLowHealthFactor, defi.SeverityWarning,
			"projected health factor %.2f is below %s", hf, formatAmount(healthFactorWarnBelow))
	}

	if name, ok := params.Text(defi.ParamProtocol); ok {
		v.validateProtocol(name, tmpl.Intent, params, add)
		if conv := pctxConversation(pctx); conv != nil && len(conv.PreferredProtocols) > 0 && !conv.PrefersProtocol(name) {
			add(defi.ParamProtocol, CodeNotPreferredProtocol, defi.SeverityInfo,
				"%s is not among your preferred protocols (%s)", name, strings.Join(conv.PreferredProtocols, ", "))
		}
	}
	return out
}

func (v *Validator) validateProtocol(name string, intent defi.Intent, params defi.Parameters,
	add func(defi.ParamName, string, defi.Severity, string, ...any)) {
	protocol, ok := v.catalog.Protocol(name)
	if !ok {
		add(defi.ParamProtocol, CodeUnknownProtocol, defi.SeverityWarning, "unknown protocol %s", name)
		return
	}
	if want := intent.ProtocolCategory(); want != "" && !categoryServes(protocol.Category, want) {
		add(defi.ParamProtocol, CodeProtocolMismatch, defi.SeverityWarning,
			"%s is a %s protocol and may not support %s", protocol.Name, protocol.Category, strings.ToLower(string(intent)))
	}
	if chain, ok := params.Text(defi.ParamChain); ok && !protocol.Supports(chain) {
		add(defi.ParamChain, CodeUnsupportedChain, defi.SeverityWarning, "%s is not deployed on %s", protocol.Name, chain)
	}
}

// categoryServes 判断协议类别能否承接意图类别。收益聚合器可以承接借贷与质押。
func categoryServes(have, want defi.ProtocolCategory) bool {
	if have == want {
		return true
	}
	return have == defi.CategoryYield && (want == defi.CategoryLending || want == defi.CategoryStaking)
}

// MissingAsErrors 在关闭澄清时把缺失参数转换为 error 级别的校验结果。
func MissingAsErrors(missing []defi.ParamName) defi.ValidationErrors {
	out := make(defi.ValidationErrors, 0, len(missing))
	for _, name := range missing {
		out = append(out, defi.ValidationError{
			Field:    string(name),
			Code:     CodeMissingParameter,
			Message:  fmt.Sprintf("missing required parameter %s", name),
			Severity: defi.SeverityError,
		})
	}
	return out
}

func pctxConversation(pctx *defi.ParsingContext) *defi.ConversationContext {
	if pctx == nil {
		return nil
	}
	return pctx.Conversation
}

func formatAmount(v float64) string {
	return defi.Number(v).String()
}
