package defi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ParamName 是命令参数的封闭枚举。
type ParamName string

const (
	ParamAmount          ParamName = "amount"
	ParamAsset           ParamName = "asset"
	ParamFromToken       ParamName = "fromToken"
	ParamToToken         ParamName = "toToken"
	ParamCollateralAsset ParamName = "collateralAsset"
	ParamProtocol        ParamName = "protocol"
	ParamChain           ParamName = "chain"
	ParamLeverage        ParamName = "leverage"
	ParamSlippage        ParamName = "slippage"
	ParamDurationDays    ParamName = "durationDays"
	ParamRecipient       ParamName = "recipient"
	ParamPercentage      ParamName = "percentage"
	ParamRelativeAmount  ParamName = "relativeAmount"
	ParamDirection       ParamName = "direction"
	ParamRateType        ParamName = "rateType"

	ParamSpotPrice             ParamName = "spotPrice"
	ParamOutputAmount          ParamName = "outputAmount"
	ParamInputAmount           ParamName = "inputAmount"
	ParamPriceImpact           ParamName = "priceImpact"
	ParamFeeRate               ParamName = "feeRate"
	ParamLiquidationPrice      ParamName = "liquidationPrice"
	ParamProjectedHealthFactor ParamName = "projectedHealthFactor"
	ParamRouteHops             ParamName = "routeHops"
	ParamGasPriceGwei          ParamName = "gasPriceGwei"
)

var knownParams = map[ParamName]ValueKind{
	ParamAmount:                KindNumber,
	ParamAsset:                 KindText,
	ParamFromToken:             KindText,
	ParamToToken:               KindText,
	ParamCollateralAsset:       KindText,
	ParamProtocol:              KindText,
	ParamChain:                 KindText,
	ParamLeverage:              KindNumber,
	ParamSlippage:              KindNumber,
	ParamDurationDays:          KindNumber,
	ParamRecipient:             KindText,
	ParamPercentage:            KindNumber,
	ParamRelativeAmount:        KindText,
	ParamDirection:             KindText,
	ParamRateType:              KindText,
	ParamSpotPrice:             KindNumber,
	ParamOutputAmount:          KindNumber,
	ParamInputAmount:           KindNumber,
	ParamPriceImpact:           KindNumber,
	ParamFeeRate:               KindNumber,
	ParamLiquidationPrice:      KindNumber,
	ParamProjectedHealthFactor: KindNumber,
	ParamRouteHops:             KindNumber,
	ParamGasPriceGwei:          KindNumber,
}

// KindOf 返回参数的取值类型。
func (n ParamName) KindOf() (ValueKind, bool) {
	kind, ok := knownParams[n]
	return kind, ok
}

// ValueKind 描述参数值的类型。
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindText   ValueKind = "text"
)

// ParamValue 是带类型的参数值，只能是数值或文本之一。
type ParamValue struct {
	kind ValueKind
	num  float64
	text string
}

// Number 构造数值参数。
func Number(v float64) ParamValue { return ParamValue{kind: KindNumber, num: v} }

// Text 构造文本参数。
func Text(v string) ParamValue { return ParamValue{kind: KindText, text: v} }

// Kind 返回取值类型。
func (v ParamValue) Kind() ValueKind { return v.kind }

// Float 返回数值，非数值参数返回 false。
func (v ParamValue) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// String 返回文本形式。
func (v ParamValue) String() string {
	if v.kind == KindNumber {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.text
}

// MarshalJSON 数值输出为 JSON number，文本输出为 JSON string。
func (v ParamValue) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON 根据 JSON 字面量推断类型。
func (v *ParamValue) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*v = Number(num)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("参数值必须是数值或字符串: %w", err)
	}
	*v = Text(text)
	return nil
}

// Schema 约束一组参数允许出现的名称。
type Schema struct {
	allowed map[ParamName]struct{}
}

// NewSchema 使用已知参数名构造约束，未知名称会返回错误。
func NewSchema(names ...ParamName) (Schema, error) {
	allowed := make(map[ParamName]struct{}, len(names))
	for _, name := range names {
		if _, ok := knownParams[name]; !ok {
			return Schema{}, fmt.Errorf("未知参数 %q", name)
		}
		allowed[name] = struct{}{}
	}
	return Schema{allowed: allowed}, nil
}

// MustSchema 与 NewSchema 相同，但在出错时 panic，仅用于包级模板表。
func MustSchema(names ...ParamName) Schema {
	s, err := NewSchema(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Allows 判断参数名是否在约束内。
func (s Schema) Allows(name ParamName) bool {
	_, ok := s.allowed[name]
	return ok
}

// Names 返回约束内的参数名，按字典序排列。
func (s Schema) Names() []ParamName {
	out := make([]ParamName, 0, len(s.allowed))
	for name := range s.allowed {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewSet 创建受约束的空参数集。
func (s Schema) NewSet() *ParamSet {
	return &ParamSet{schema: s, values: make(map[ParamName]ParamValue)}
}

// ParamSet 是受 Schema 约束的参数集合。
type ParamSet struct {
	schema Schema
	values map[ParamName]ParamValue
}

// Set 写入参数，名称不在约束内或类型不符时返回错误。
func (p *ParamSet) Set(name ParamName, value ParamValue) error {
	if p == nil || p.values == nil {
		return fmt.Errorf("参数集未初始化")
	}
	if !p.schema.Allows(name) {
		return fmt.Errorf("参数 %q 不在模板约束内", name)
	}
	if kind, _ := name.KindOf(); kind != value.kind {
		return fmt.Errorf("参数 %q 期望类型 %s，实际为 %s", name, kind, value.kind)
	}
	p.values[name] = value
	return nil
}

// Get 读取参数。
func (p *ParamSet) Get(name ParamName) (ParamValue, bool) {
	if p == nil {
		return ParamValue{}, false
	}
	v, ok := p.values[name]
	return v, ok
}

// Number 读取数值参数。
func (p *ParamSet) Number(name ParamName) (float64, bool) {
	v, ok := p.Get(name)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Text 读取文本参数。
func (p *ParamSet) Text(name ParamName) (string, bool) {
	v, ok := p.Get(name)
	if !ok || v.kind != KindText {
		return "", false
	}
	return v.text, true
}

// Has 判断参数是否存在。
func (p *ParamSet) Has(name ParamName) bool {
	_, ok := p.Get(name)
	return ok
}

// Len 返回参数个数。
func (p *ParamSet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.values)
}

// MarshalJSON 输出为参数名到值的对象。
func (p *ParamSet) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.values)
}

// UnmarshalJSON 读取已持久化的参数集，只接受已知参数名且类型需匹配。
func (p *ParamSet) UnmarshalJSON(data []byte) error {
	raw := make(map[ParamName]ParamValue)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	names := make([]ParamName, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	schema, err := NewSchema(names...)
	if err != nil {
		return err
	}
	set := schema.NewSet()
	for name, value := range raw {
		if err := set.Set(name, value); err != nil {
			return err
		}
	}
	*p = *set
	return nil
}

// Parameters 是命令参数的三个分组。
type Parameters struct {
	Primary  *ParamSet `json:"primary"`
	Optional *ParamSet `json:"optional"`
	Derived  *ParamSet `json:"derived"`
}

// Lookup 依次在必选、可选、派生分组中查找参数。
func (p Parameters) Lookup(name ParamName) (ParamValue, bool) {
	for _, set := range []*ParamSet{p.Primary, p.Optional, p.Derived} {
		if v, ok := set.Get(name); ok {
			return v, true
		}
	}
	return ParamValue{}, false
}

// Number 查找数值参数。
func (p Parameters) Number(name ParamName) (float64, bool) {
	v, ok := p.Lookup(name)
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Text 查找文本参数。
func (p Parameters) Text(name ParamName) (string, bool) {
	v, ok := p.Lookup(name)
	if !ok || v.Kind() != KindText {
		return "", false
	}
	return v.String(), true
}
