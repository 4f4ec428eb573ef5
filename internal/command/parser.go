package command

import (
	"fmt"
	"strings"

	"DeFiIntent-Chain/internal/defi"
	xerrors "DeFiIntent-Chain/internal/errors"
)

// ParsedCommand 是参数抽取后的中间结果。
type ParsedCommand struct {
	Classification *defi.IntentClassification
	Template       *Template
	RawText        string
	Primary        *defi.ParamSet
	Optional       *defi.ParamSet
	Missing        []defi.ParamName
	Notes          defi.ValidationErrors
}

// Parameters 返回当前已抽取的参数分组。
func (p *ParsedCommand) Parameters() defi.Parameters {
	return defi.Parameters{Primary: p.Primary, Optional: p.Optional}
}

// SourceToken 返回支出代币符号。
func (p *ParsedCommand) SourceToken() (string, bool) {
	slot, ok := p.Template.SourceToken()
	if !ok {
		return "", false
	}
	return p.Parameters().Text(slot)
}

// AmountToken 返回 amount 所计价的代币。按输出数量兑换时为目标代币。
func (p *ParsedCommand) AmountToken() (string, bool) {
	if p.Template.Intent == defi.IntentSwap && p.Classification.SubIntent == "exact_out" {
		return p.Parameters().Text(defi.ParamToToken)
	}
	return p.SourceToken()
}

// Parse 依据意图模板从分类结果中抽取命令参数。pctx 可以为空。
//
// 单代币模板出现多个代币，或数值参数类型不符时返回 PARAMETER_EXTRACTION_FAILED。
// 缺少必选参数不是错误，记录在 Missing 中由构建阶段处理。
func Parse(classification *defi.IntentClassification, rawText string, pctx *defi.ParsingContext) (*ParsedCommand, error) {
	if classification == nil {
		return nil, xerrors.New(defi.CodeParameterExtraction, "缺少意图分类结果", xerrors.WithStage("parse"))
	}
	tmpl, ok := TemplateFor(classification.Intent)
	if !ok {
		return nil, xerrors.Newf(defi.CodeCommandBuilding, "意图 %s 没有命令模板", classification.Intent)
	}
	p := &ParsedCommand{
		Classification: classification,
		Template:       tmpl,
		RawText:        rawText,
		Primary:        tmpl.NewPrimary(),
		Optional:       tmpl.NewOptional(),
	}
	entities := classification.Entities

	if err := p.assignTokens(entities.OfType(defi.EntityToken), classification.SubIntent); err != nil {
		return nil, err
	}

	if e, ok := entities.First(defi.EntityAmount); ok {
		if err := p.set(defi.ParamAmount, defi.Number(e.Value)); err != nil {
			return nil, err
		}
	} else if err := p.resolveRelative(entities, pctx); err != nil {
		return nil, err
	}

	singles := []struct {
		entity defi.EntityType
		param  defi.ParamName
		value  func(defi.Entity) defi.ParamValue
	}{
		{defi.EntityProtocol, defi.ParamProtocol, func(e defi.Entity) defi.ParamValue { return defi.Text(e.NormalizedValue) }},
		{defi.EntityChain, defi.ParamChain, func(e defi.Entity) defi.ParamValue { return defi.Text(e.NormalizedValue) }},
		{defi.EntityLeverage, defi.ParamLeverage, func(e defi.Entity) defi.ParamValue { return defi.Number(e.Value) }},
		{defi.EntitySlippage, defi.ParamSlippage, func(e defi.Entity) defi.ParamValue { return defi.Number(e.Value) }},
		{defi.EntityDuration, defi.ParamDurationDays, func(e defi.Entity) defi.ParamValue { return defi.Number(e.Value) }},
		{defi.EntityAddress, defi.ParamRecipient, func(e defi.Entity) defi.ParamValue { return defi.Text(e.NormalizedValue) }},
	}
	for _, s := range singles {
		e, ok := entities.First(s.entity)
		if !ok {
			continue
		}
		if err := p.set(s.param, s.value(e)); err != nil {
			return nil, err
		}
	}

	if !p.has(defi.ParamChain) && pctx != nil && pctx.Chain != "" && tmpl.Allows(defi.ParamChain) {
		if err := p.set(defi.ParamChain, defi.Text(strings.ToLower(pctx.Chain))); err != nil {
			return nil, err
		}
	}

	if sub := classification.SubIntent; sub != "" {
		switch {
		case tmpl.Allows(defi.ParamDirection) && (sub == "long" || sub == "short"):
			_ = p.set(defi.ParamDirection, defi.Text(sub))
		case tmpl.Allows(defi.ParamRateType):
			_ = p.set(defi.ParamRateType, defi.Text(sub))
		}
	}

	for _, name := range tmpl.Required {
		if !p.Primary.Has(name) {
			p.Missing = append(p.Missing, name)
		}
	}
	return p, nil
}

// assignTokens 将代币实体映射到模板的代币槽位。
func (p *ParsedCommand) assignTokens(tokens []defi.Entity, subIntent string) error {
	slots := p.Template.TokenSlots
	switch {
	case len(tokens) == 0:
		return nil
	case len(slots) == 0:
		p.note(string(defi.ParamAsset), "UNUSED_TOKEN",
			fmt.Sprintf("%s does not take a token; ignored %s", p.Template.Action, tokens[0].NormalizedValue))
		return nil
	case len(tokens) > len(slots):
		return xerrors.New(defi.CodeParameterExtraction,
			fmt.Sprintf("%s 只接受 %d 个代币，输入中出现 %d 个", p.Template.Action, len(slots), len(tokens)),
			xerrors.WithStage("parse"),
			xerrors.WithMetadata("intent", string(p.Template.Intent)))
	}

	if p.Template.Intent == defi.IntentSwap && subIntent == "exact_out" {
		// "buy 2 ETH with USDC"：先出现的是买入代币，其后是支付代币。
		if err := p.set(defi.ParamToToken, defi.Text(tokens[0].NormalizedValue)); err != nil {
			return err
		}
		if len(tokens) == 2 {
			return p.set(defi.ParamFromToken, defi.Text(tokens[1].NormalizedValue))
		}
		return nil
	}
	for i, tok := range tokens {
		if err := p.set(slots[i], defi.Text(tok.NormalizedValue)); err != nil {
			return err
		}
	}
	return nil
}

// resolveRelative 把百分比或相对金额换算为绝对金额。余额未知时只记录原始比例。
func (p *ParsedCommand) resolveRelative(entities defi.EntitySet, pctx *defi.ParsingContext) error {
	var (
		fraction float64
		record   func() error
	)
	if e, ok := entities.First(defi.EntityPercentage); ok {
		fraction = e.Value / 100
		record = func() error { return p.set(defi.ParamPercentage, defi.Number(e.Value)) }
	} else if e, ok := entities.First(defi.EntityRelativeAmount); ok {
		fraction = e.Value
		record = func() error { return p.set(defi.ParamRelativeAmount, defi.Text(e.NormalizedValue)) }
	} else {
		return nil
	}
	if !p.Template.Allows(defi.ParamAmount) {
		return nil
	}
	if err := record(); err != nil {
		return err
	}
	symbol, ok := p.SourceToken()
	if !ok {
		return nil
	}
	balance, ok := pctx.Balance(symbol)
	if !ok {
		p.note(string(defi.ParamAmount), "BALANCE_UNKNOWN",
			fmt.Sprintf("no %s balance available to resolve the relative amount", symbol))
		return nil
	}
	return p.set(defi.ParamAmount, defi.Number(balance*fraction))
}

// set 按模板把参数写入必选或可选分组，模板不接受的参数记为提示。
func (p *ParsedCommand) set(name defi.ParamName, value defi.ParamValue) error {
	target := p.Optional
	switch {
	case p.Template.IsRequired(name):
		target = p.Primary
	case !p.Template.Allows(name):
		p.note(string(name), "UNUSED_PARAMETER",
			fmt.Sprintf("%s is not used by %s", name, p.Template.Action))
		return nil
	}
	if err := target.Set(name, value); err != nil {
		return xerrors.Wrap(defi.CodeParameterExtraction, err, "写入参数失败",
			xerrors.WithStage("parse"), xerrors.WithMetadata("param", string(name)))
	}
	return nil
}

func (p *ParsedCommand) has(name defi.ParamName) bool {
	return p.Primary.Has(name) || p.Optional.Has(name)
}

func (p *ParsedCommand) note(field, code, message string) {
	p.Notes = append(p.Notes, defi.ValidationError{
		Field:    field,
		Code:     code,
		Message:  message,
		Severity: defi.SeverityInfo,
	})
}
