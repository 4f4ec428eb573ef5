package defi

// EntityType 表示实体的类别。
type EntityType string

const (
	EntityAmount         EntityType = "AMOUNT"
	EntityToken          EntityType = "TOKEN"
	EntityProtocol       EntityType = "PROTOCOL"
	EntityPercentage     EntityType = "PERCENTAGE"
	EntityRelativeAmount EntityType = "RELATIVE_AMOUNT"
	EntityLeverage       EntityType = "LEVERAGE"
	EntitySlippage       EntityType = "SLIPPAGE"
	EntityDuration       EntityType = "DURATION"
	EntityAddress        EntityType = "ADDRESS"
	EntityChain          EntityType = "CHAIN"
)

// entityPriority 越靠前优先级越高，用于同起点同长度的实体排序。
var entityPriority = []EntityType{
	EntityAddress,
	EntitySlippage,
	EntityLeverage,
	EntityPercentage,
	EntityRelativeAmount,
	EntityDuration,
	EntityProtocol,
	EntityChain,
	EntityToken,
	EntityAmount,
}

// EntityTypes 返回所有实体类别，按优先级排列。
func EntityTypes() []EntityType {
	out := make([]EntityType, len(entityPriority))
	copy(out, entityPriority)
	return out
}

// Priority 返回实体类别的优先级序号，数值越小优先级越高。
func (t EntityType) Priority() int {
	for i, candidate := range entityPriority {
		if candidate == t {
			return i
		}
	}
	return len(entityPriority)
}

// IsNumeric 判断该类别的实体是否携带数值。
func (t EntityType) IsNumeric() bool {
	switch t {
	case EntityAmount, EntityPercentage, EntityRelativeAmount, EntityLeverage, EntitySlippage, EntityDuration:
		return true
	}
	return false
}

// Span 是预处理后文本中的字节区间 [Start, End)。
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len 返回区间长度。
func (s Span) Len() int { return s.End - s.Start }

// Overlaps 判断两个区间是否重叠。
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Entity 是从文本中抽取出的带类型、带位置的金融参数。
type Entity struct {
	Type            EntityType `json:"type"`
	RawValue        string     `json:"raw_value"`
	NormalizedValue string     `json:"normalized_value"`
	Value           float64    `json:"value,omitempty"`
	Confidence      float64    `json:"confidence"`
	Span            Span       `json:"span"`
	IsValid         bool       `json:"is_valid"`
}

// EntitySet 为实体列表提供按类别查询的便捷方法。
type EntitySet []Entity

// Has 判断是否包含指定类别的实体。
func (s EntitySet) Has(t EntityType) bool {
	for _, e := range s {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Count 返回指定类别的实体数量。
func (s EntitySet) Count(t EntityType) int {
	n := 0
	for _, e := range s {
		if e.Type == t {
			n++
		}
	}
	return n
}

// OfType 按出现顺序返回指定类别的实体。
func (s EntitySet) OfType(t EntityType) []Entity {
	var out []Entity
	for _, e := range s {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// First 返回指定类别的第一个实体。
func (s EntitySet) First(t EntityType) (Entity, bool) {
	for _, e := range s {
		if e.Type == t {
			return e, true
		}
	}
	return Entity{}, false
}

// HasAmountLike 判断是否存在可以充当金额的实体。百分比和相对金额都能在余额已知时换算成金额。
func (s EntitySet) HasAmountLike() bool {
	return s.Has(EntityAmount) || s.Has(EntityPercentage) || s.Has(EntityRelativeAmount)
}
