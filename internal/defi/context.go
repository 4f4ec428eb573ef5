package defi

import (
	"strings"
	"time"
)

// RiskTolerance 描述用户的风险偏好。
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// PositionType 描述持仓类别。
type PositionType string

const (
	PositionLending   PositionType = "lending"
	PositionBorrowing PositionType = "borrowing"
	PositionLiquidity PositionType = "liquidity"
	PositionTrading   PositionType = "trading"
	PositionStaking   PositionType = "staking"
)

// Position 是用户当前持有的一笔仓位。
type Position struct {
	ID           string       `json:"id"`
	Type         PositionType `json:"type"`
	Protocol     string       `json:"protocol"`
	Asset        string       `json:"asset"`
	Value        float64      `json:"value"`
	HealthFactor *float64     `json:"health_factor,omitempty"`
	APY          float64      `json:"apy"`
	Leverage     float64      `json:"leverage,omitempty"`
}

// HistoryTurn 是会话中已完成的一轮。
type HistoryTurn struct {
	Text      string    `json:"text"`
	Intent    Intent    `json:"intent"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationContext 是外部会话存储提供的只读快照，流水线不会回写。
type ConversationContext struct {
	SessionID          string        `json:"session_id"`
	RiskTolerance      RiskTolerance `json:"risk_tolerance"`
	PreferredProtocols []string      `json:"preferred_protocols,omitempty"`
	PortfolioValue     *float64      `json:"portfolio_value,omitempty"`
	ActivePositions    []Position    `json:"active_positions,omitempty"`
	History            []HistoryTurn `json:"history,omitempty"`
}

// RecentIntents 返回最近 n 轮的意图，按时间先后排列。
func (c *ConversationContext) RecentIntents(n int) []Intent {
	if c == nil || n <= 0 {
		return nil
	}
	start := len(c.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]Intent, 0, len(c.History)-start)
	for _, turn := range c.History[start:] {
		if turn.Intent != "" {
			out = append(out, turn.Intent)
		}
	}
	return out
}

// LastIntent 返回最近一轮的意图。
func (c *ConversationContext) LastIntent() (Intent, bool) {
	if c == nil {
		return "", false
	}
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Intent != "" {
			return c.History[i].Intent, true
		}
	}
	return "", false
}

// HasPositionType 判断是否持有指定类别的仓位。
func (c *ConversationContext) HasPositionType(t PositionType) bool {
	if c == nil {
		return false
	}
	for _, p := range c.ActivePositions {
		if p.Type == t {
			return true
		}
	}
	return false
}

// TotalValue 返回组合价值，未提供时以仓位价值之和代替。
func (c *ConversationContext) TotalValue() float64 {
	if c == nil {
		return 0
	}
	if c.PortfolioValue != nil {
		return *c.PortfolioValue
	}
	total := 0.0
	for _, p := range c.ActivePositions {
		total += p.Value
	}
	return total
}

// PrefersProtocol 判断用户是否偏好指定协议。
func (c *ConversationContext) PrefersProtocol(name string) bool {
	if c == nil {
		return false
	}
	for _, p := range c.PreferredProtocols {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// ParsingContext 是命令解析阶段可用的外部信息。
type ParsingContext struct {
	Conversation *ConversationContext `json:"conversation,omitempty"`
	Balances     map[string]float64   `json:"balances,omitempty"`
	Chain        string               `json:"chain,omitempty"`
	UserAddress  string               `json:"user_address,omitempty"`
}

// Balance 返回指定代币的余额，大小写不敏感。
func (p *ParsingContext) Balance(symbol string) (float64, bool) {
	if p == nil || len(p.Balances) == 0 {
		return 0, false
	}
	if v, ok := p.Balances[symbol]; ok {
		return v, true
	}
	for k, v := range p.Balances {
		if strings.EqualFold(k, symbol) {
			return v, true
		}
	}
	return 0, false
}
