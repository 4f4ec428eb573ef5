package registry

import "DeFiIntent-Chain/internal/defi"

// 通用片段。金额前缀允许数字、百分比或相对量词。
const (
	amountPrefix = `(?:(?:\d+(?:\.\d+)?%?|all|half|everything|max|entire)\s+(?:of\s+)?(?:my\s+)?)?`
	tokenWord    = `[a-z][a-z0-9]{1,9}`
	pairWord     = `[a-z0-9]+(?:\s*(?:[/-]|and)\s*[a-z0-9]+)?`
)

var (
	amountOnly      = []defi.EntityType{defi.EntityAmount}
	amountAndToken  = []defi.EntityType{defi.EntityAmount, defi.EntityToken}
	tokenOnly       = []defi.EntityType{defi.EntityToken}
	twoTokens       = []defi.EntityType{defi.EntityToken, defi.EntityToken}
	twoProtocols    = []defi.EntityType{defi.EntityProtocol, defi.EntityProtocol}
	leverageToken   = []defi.EntityType{defi.EntityLeverage, defi.EntityToken}
	venueOptional   = []defi.EntityType{defi.EntityProtocol, defi.EntityChain}
	amountOptional  = []defi.EntityType{defi.EntityAmount, defi.EntityProtocol, defi.EntityChain}
	tokenOptional   = []defi.EntityType{defi.EntityToken, defi.EntityProtocol}
	tokenAmountOpt  = []defi.EntityType{defi.EntityToken, defi.EntityAmount}
	positionOptions = []defi.EntityType{defi.EntityLeverage, defi.EntityAmount, defi.EntityProtocol}
)

var defaultPatterns = []PatternDef{
	{
		Intent:         defi.IntentLend,
		Expr:           `\b(?:lend|supply|deposit)\s+` + amountPrefix + tokenWord + `\b(?:\s+(?:on|to|into|in|at)\s+[a-z0-9]+)?`,
		BaseConfidence: 0.9,
		Required:       amountAndToken,
		Optional:       []defi.EntityType{defi.EntityProtocol, defi.EntityChain, defi.EntityLeverage},
		Examples:       []string{"lend 1000 USDC on aave", "supply 50% of my DAI"},
	},
	{
		Intent:         defi.IntentLend,
		Expr:           `\b(?:lend|supply|deposit)\s+\d+(?:\.\d+)?%?`,
		BaseConfidence: 0.85,
		Required:       amountOnly,
		Optional:       tokenOptional,
	},
	{
		Intent:         defi.IntentLend,
		Expr:           `\b(?:earn|get)\s+(?:yield|interest)\s+(?:on|with)\s+(?:my\s+)?` + tokenWord + `\b`,
		BaseConfidence: 0.75,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntityProtocol},
		Examples:       []string{"earn yield on my USDC"},
	},
	{
		Intent:         defi.IntentWithdraw,
		Expr:           `\b(?:withdraw|redeem|pull\s+out)\s+` + amountPrefix + tokenWord + `\b(?:\s+from\s+[a-z0-9]+)?`,
		BaseConfidence: 0.9,
		Required:       tokenOnly,
		Optional:       amountOptional,
		Examples:       []string{"withdraw 500 USDC from aave", "withdraw all my ETH"},
	},
	{
		Intent:         defi.IntentWithdraw,
		Expr:           `\b(?:withdraw|redeem)\s+\d+(?:\.\d+)?%?`,
		BaseConfidence: 0.85,
		Required:       amountOnly,
		Optional:       tokenOptional,
	},
	{
		Intent:         defi.IntentBorrow,
		Expr:           `\bborrow\s+(?:\d+(?:\.\d+)?\s+)?` + tokenWord + `\b(?:\s+(?:against|using|with)\s+(?:my\s+)?` + tokenWord + `\b)?(?:\s+(?:on|from)\s+[a-z0-9]+)?`,
		BaseConfidence: 0.9,
		Required:       amountAndToken,
		Optional:       venueOptional,
		Examples:       []string{"borrow 500 DAI against my ETH", "borrow 1000 USDC on compound"},
	},
	{
		Intent:         defi.IntentBorrow,
		Expr:           `\b(?:take\s+(?:out\s+)?a\s+loan|borrow)\b`,
		BaseConfidence: 0.7,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount},
	},
	{
		Intent:         defi.IntentRepay,
		Expr:           `\b(?:repay|pay\s+back|pay\s+off)\s+` + amountPrefix + tokenWord + `\b(?:\s+(?:loan|debt))?`,
		BaseConfidence: 0.9,
		Required:       tokenOnly,
		Optional:       amountOptional,
		Examples:       []string{"repay 200 DAI", "repay all my USDC debt"},
	},
	{
		Intent:         defi.IntentRepay,
		Expr:           `\b(?:repay|pay\s+back|pay\s+off)\b`,
		BaseConfidence: 0.7,
		Optional:       tokenAmountOpt,
	},
	{
		Intent:         defi.IntentSwap,
		Expr:           `\b(?:swap|exchange|convert|trade)\s+` + amountPrefix + tokenWord + `\s+(?:for|to|into)\s+` + tokenWord + `\b`,
		BaseConfidence: 0.95,
		Required:       twoTokens,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntitySlippage, defi.EntityProtocol, defi.EntityChain},
		SubIntent:      "exact_in",
		Examples:       []string{"swap 1 ETH for USDC", "convert half my DAI to USDT"},
	},
	{
		Intent:         defi.IntentSwap,
		Expr:           `\b(?:swap|exchange|convert|trade)\b`,
		BaseConfidence: 0.7,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntitySlippage},
		SubIntent:      "exact_in",
	},
	{
		Intent:         defi.IntentSwap,
		Expr:           `\bbuy\s+(?:\d+(?:\.\d+)?\s+)?` + tokenWord + `\b(?:\s+(?:with|using)\s+(?:my\s+)?` + tokenWord + `\b)?`,
		BaseConfidence: 0.8,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntitySlippage},
		SubIntent:      "exact_out",
		Examples:       []string{"buy 2 ETH with USDC"},
	},
	{
		Intent:         defi.IntentSwap,
		Expr:           `\bsell\s+` + amountPrefix + tokenWord + `\b(?:\s+for\s+` + tokenWord + `\b)?`,
		BaseConfidence: 0.8,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntitySlippage},
		SubIntent:      "exact_in",
	},
	{
		Intent:         defi.IntentAddLiquidity,
		Expr:           `\b(?:add|provide)\s+(?:\d+(?:\.\d+)?\s+)?(?:` + pairWord + `\s+)?liquidity\b(?:\s+(?:to|in|into|on)\s+(?:the\s+)?` + pairWord + `(?:\s+pool)?)?`,
		BaseConfidence: 0.95,
		Required:       twoTokens,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntityProtocol},
		Examples:       []string{"add liquidity to ETH/USDC pool on uniswap"},
	},
	{
		Intent:         defi.IntentAddLiquidity,
		Expr:           `\b(?:lp|pool)\s+` + pairWord + `\b`,
		BaseConfidence: 0.8,
		Required:       twoTokens,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntityProtocol},
	},
	{
		Intent:         defi.IntentRemoveLiquidity,
		Expr:           `\b(?:remove|withdraw|pull)\s+` + amountPrefix + `(?:(?:my|the)\s+)?(?:` + pairWord + `\s+)?liquidity\b(?:\s+from\s+(?:the\s+)?` + pairWord + `(?:\s+pool)?)?`,
		BaseConfidence: 0.95,
		Optional:       []defi.EntityType{defi.EntityToken, defi.EntityAmount, defi.EntityProtocol},
		Examples:       []string{"remove my ETH/USDC liquidity", "remove half liquidity from curve"},
	},
	{
		Intent:         defi.IntentOpenPosition,
		Expr:           `\b(?:open|take|enter)\s+(?:a\s+)?(?:\d+(?:\.\d+)?x\s+)?(?:leveraged\s+)?(?:long|short)\b(?:\s+(?:position\s+)?(?:on|in)\s+` + tokenWord + `\b)?`,
		BaseConfidence: 0.9,
		Required:       tokenOnly,
		Optional:       positionOptions,
		Examples:       []string{"open a 5x long on ETH"},
	},
	{
		Intent:         defi.IntentOpenPosition,
		Expr:           `\b(?:go|going)\s+(?:long|short)\b`,
		BaseConfidence: 0.85,
		Required:       tokenOnly,
		Optional:       positionOptions,
	},
	{
		Intent:         defi.IntentOpenPosition,
		Expr:           `\b(?:long|short)\s+(?:\d+(?:\.\d+)?\s+)?` + tokenWord + `\b`,
		BaseConfidence: 0.85,
		Required:       tokenOnly,
		Optional:       positionOptions,
		Examples:       []string{"short 2 ETH with 3x leverage"},
	},
	{
		Intent:         defi.IntentOpenPosition,
		Expr:           `\b\d+(?:\.\d+)?x\s+(?:leverage|leveraged|long|short)\b`,
		BaseConfidence: 0.6,
		Required:       leverageToken,
		Optional:       []defi.EntityType{defi.EntityAmount},
	},
	{
		Intent:         defi.IntentClosePosition,
		Expr:           `\b(?:close|exit|unwind)\s+(?:my\s+|the\s+)?(?:[a-z0-9]+\s+)?(?:long|short|position|positions|trade)\b`,
		BaseConfidence: 0.9,
		Optional:       tokenOptional,
		Examples:       []string{"close my ETH long"},
	},
	{
		Intent:         defi.IntentCrossProtocolArbitrage,
		Expr:           `\bcross[\s-]?(?:protocol|dex|venue)\s+arb(?:itrage)?\b`,
		BaseConfidence: 0.95,
		Optional:       []defi.EntityType{defi.EntityToken, defi.EntityAmount, defi.EntityProtocol},
		Examples:       []string{"run a cross-protocol arbitrage on ETH"},
	},
	{
		Intent:         defi.IntentCrossProtocolArbitrage,
		Expr:           `\barb(?:itrage)?\b.*\bbetween\s+[a-z0-9]+\s+and\s+[a-z0-9]+\b`,
		BaseConfidence: 0.95,
		Required:       twoProtocols,
		Optional:       tokenAmountOpt,
		Examples:       []string{"arbitrage ETH between uniswap and curve"},
	},
	{
		Intent:         defi.IntentArbitrage,
		Expr:           `\b(?:arbitrage|arb)\b`,
		BaseConfidence: 0.85,
		Optional:       tokenAmountOpt,
		Examples:       []string{"arbitrage 1000 USDC"},
	},
	{
		Intent:         defi.IntentArbitrage,
		Expr:           `\bprice\s+(?:difference|gap|spread)\b`,
		BaseConfidence: 0.7,
		Required:       tokenOnly,
	},
	{
		Intent:         defi.IntentStake,
		Expr:           `\bstake\s+` + amountPrefix + tokenWord + `\b`,
		BaseConfidence: 0.9,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntityProtocol, defi.EntityDuration},
		Examples:       []string{"stake 10 ETH with lido", "stake all my ETH for 30 days"},
	},
	{
		Intent:         defi.IntentUnstake,
		Expr:           `\b(?:unstake|unbond)\s+` + amountPrefix + tokenWord + `\b`,
		BaseConfidence: 0.9,
		Required:       tokenOnly,
		Optional:       []defi.EntityType{defi.EntityAmount, defi.EntityProtocol},
		Examples:       []string{"unstake 5 STETH"},
	},
	{
		Intent:         defi.IntentUnstake,
		Expr:           `\b(?:unstake|unbond)\b`,
		BaseConfidence: 0.75,
		Optional:       tokenAmountOpt,
	},
	{
		Intent:         defi.IntentClaimRewards,
		Expr:           `\b(?:claim|harvest|collect)\s+(?:(?:my|all|the)\s+)*(?:[a-z0-9]+\s+)?(?:rewards?|yield|interest|fees|emissions)\b`,
		BaseConfidence: 0.95,
		Optional:       tokenOptional,
		Examples:       []string{"claim my aave rewards"},
	},
	{
		Intent:         defi.IntentClaimRewards,
		Expr:           `\bharvest\b`,
		BaseConfidence: 0.75,
		Optional:       tokenOptional,
	},
	{
		Intent:         defi.IntentShowRates,
		Expr:           `\b(?:what(?:'s|\s+is|\s+are)?|show|check|compare|best|current)\b.*\b(?:rates?|apy|apr|yields?)\b`,
		BaseConfidence: 0.85,
		Optional:       []defi.EntityType{defi.EntityToken, defi.EntityProtocol, defi.EntityChain},
		Examples:       []string{"what are the USDC rates on aave?", "compare borrow rates for DAI"},
	},
	{
		Intent:         defi.IntentShowRates,
		Expr:           `\b(?:rates?|apy|apr)\s+(?:for|on|of)\s+[a-z0-9]+\b`,
		BaseConfidence: 0.8,
		Optional:       []defi.EntityType{defi.EntityToken, defi.EntityProtocol},
	},
	{
		Intent:         defi.IntentShowPositions,
		Expr:           `\b(?:show|list|display|view|check|see)\s+(?:me\s+)?(?:all\s+)?(?:my\s+)?(?:[a-z0-9]+\s+)?(?:positions?|loans?|deposits?|debts?|borrows?)\b`,
		BaseConfidence: 0.9,
		Optional:       tokenOptional,
		Examples:       []string{"show my positions", "list my aave loans"},
	},
	{
		Intent:         defi.IntentShowPortfolio,
		Expr:           `\b(?:show|display|view|check|see)\s+(?:me\s+)?(?:my\s+)?(?:portfolio|balances?|holdings|net\s+worth)\b`,
		BaseConfidence: 0.9,
		Examples:       []string{"show my portfolio"},
	},
	{
		Intent:         defi.IntentShowPortfolio,
		Expr:           `\b(?:how\s+much\s+(?:is\s+my\s+portfolio|do\s+i\s+have)|what(?:'s|\s+is)\s+my\s+(?:portfolio|balance|net\s+worth))\b`,
		BaseConfidence: 0.85,
	},
	{
		Intent:         defi.IntentHelp,
		Expr:           `^\s*(?:help|\?|commands)\s*$`,
		BaseConfidence: 0.95,
		Examples:       []string{"help"},
	},
	{
		Intent:         defi.IntentHelp,
		Expr:           `\b(?:how\s+do\s+i|how\s+can\s+i|what\s+can\s+you\s+do|help\s+me)\b`,
		BaseConfidence: 0.7,
	},
}

var defaultKeywords = map[defi.Intent][]string{
	defi.IntentLend:                   {"lend", "supply", "deposit", "earn", "yield", "interest"},
	defi.IntentWithdraw:               {"withdraw", "redeem", "remove", "pull", "take"},
	defi.IntentBorrow:                 {"borrow", "loan", "collateral", "against", "debt"},
	defi.IntentRepay:                  {"repay", "pay", "back", "debt", "loan"},
	defi.IntentSwap:                   {"swap", "exchange", "convert", "trade", "buy", "sell"},
	defi.IntentAddLiquidity:           {"add", "provide", "liquidity", "pool", "lp"},
	defi.IntentRemoveLiquidity:        {"remove", "withdraw", "liquidity", "pool", "lp"},
	defi.IntentOpenPosition:           {"open", "long", "short", "leverage", "position", "perp"},
	defi.IntentClosePosition:          {"close", "exit", "unwind", "position"},
	defi.IntentArbitrage:              {"arbitrage", "arb", "spread", "difference", "gap"},
	defi.IntentCrossProtocolArbitrage: {"cross", "protocol", "arbitrage", "between", "protocols"},
	defi.IntentStake:                  {"stake", "staking", "validator", "lock"},
	defi.IntentUnstake:                {"unstake", "unbond", "unlock", "unstaking"},
	defi.IntentClaimRewards:           {"claim", "harvest", "rewards", "reward", "collect"},
	defi.IntentShowRates:              {"rate", "rates", "apy", "apr", "yield", "best"},
	defi.IntentShowPositions:          {"show", "list", "positions", "position", "my"},
	defi.IntentShowPortfolio:          {"portfolio", "balance", "balances", "holdings", "worth"},
	defi.IntentHelp:                   {"help", "how", "commands", "guide"},
}
