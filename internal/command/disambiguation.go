package command

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"DeFiIntent-Chain/internal/defi"
)

const (
	defaultDisambiguationTimeout = 30 * time.Second
	maxTokenOptions              = 6
)

// Disambiguate 为缺失的必选参数生成澄清问题与候选项。问题针对第一个缺失参数。
func Disambiguate(parsed *ParsedCommand, pctx *defi.ParsingContext, catalog *defi.Catalog, timeout time.Duration) *defi.DisambiguationOptions {
	if len(parsed.Missing) == 0 {
		return nil
	}
	if catalog == nil {
		catalog = defi.DefaultCatalog()
	}
	if timeout <= 0 {
		timeout = defaultDisambiguationTimeout
	}
	first := parsed.Missing[0]
	question, options := questionFor(first, parsed, pctx, catalog)
	return &defi.DisambiguationOptions{
		Question:          question,
		Options:           options,
		MissingParameters: append([]defi.ParamName(nil), parsed.Missing...),
		Timeout:           timeout,
	}
}

func questionFor(name defi.ParamName, parsed *ParsedCommand, pctx *defi.ParsingContext, catalog *defi.Catalog) (string, []string) {
	action := strings.ReplaceAll(parsed.Template.Action, "_", " ")
	switch name {
	case defi.ParamAmount:
		token, ok := parsed.AmountToken()
		if !ok {
			return fmt.Sprintf("How much would you like to %s?", action), nil
		}
		question := fmt.Sprintf("How much %s would you like to %s?", token, action)
		balance, known := pctx.Balance(token)
		if !known || balance <= 0 {
			return question, nil
		}
		return question, []string{
			fmt.Sprintf("%s %s (25%%)", formatAmount(balance*0.25), token),
			fmt.Sprintf("%s %s (50%%)", formatAmount(balance*0.5), token),
			fmt.Sprintf("%s %s (all)", formatAmount(balance), token),
		}
	case defi.ParamAsset:
		return fmt.Sprintf("Which token would you like to %s?", action), tokenOptions(pctx, catalog, parsed)
	case defi.ParamFromToken:
		return fmt.Sprintf("Which token would you like to %s from?", action), tokenOptions(pctx, catalog, parsed)
	case defi.ParamToToken:
		return fmt.Sprintf("Which token would you like to %s to?", action), tokenOptions(pctx, catalog, parsed)
	case defi.ParamCollateralAsset:
		return "Which token would you like to use as collateral?", tokenOptions(pctx, catalog, parsed)
	}
	return fmt.Sprintf("Please provide %s to %s.", name, action), nil
}

// tokenOptions 优先列出用户持有的代币（按余额降序），否则列出目录中的代币。已选用的代币不重复出现。
func tokenOptions(pctx *defi.ParsingContext, catalog *defi.Catalog, parsed *ParsedCommand) []string {
	used := make(map[string]struct{})
	for _, slot := range parsed.Template.TokenSlots {
		if symbol, ok := parsed.Parameters().Text(slot); ok {
			used[strings.ToUpper(symbol)] = struct{}{}
		}
	}

	var out []string
	if pctx != nil && len(pctx.Balances) > 0 {
		type holding struct {
			symbol  string
			balance float64
		}
		var held []holding
		for symbol, balance := range pctx.Balances {
			symbol = strings.ToUpper(symbol)
			if _, skip := used[symbol]; skip || balance <= 0 {
				continue
			}
			if _, known := catalog.Token(symbol); known {
				held = append(held, holding{symbol, balance})
			}
		}
		sort.Slice(held, func(i, j int) bool {
			if held[i].balance != held[j].balance {
				return held[i].balance > held[j].balance
			}
			return held[i].symbol < held[j].symbol
		})
		for _, h := range held {
			out = append(out, h.symbol)
		}
	}
	if len(out) == 0 {
		for _, symbol := range catalog.TokenSymbols() {
			if _, skip := used[symbol]; !skip {
				out = append(out, symbol)
			}
		}
	}
	if len(out) > maxTokenOptions {
		out = out[:maxTokenOptions]
	}
	return out
}
