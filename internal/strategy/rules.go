package strategy

import (
	"fmt"
	"slices"
	"sort"

	"trading-signalsync/internal/model"
)

// Rule set logic.
const (
	LogicAll = "all"
	LogicAny = "any"
)

// Named conditions usable in entry and exit rule sets.
const (
	RuleRSIOversold     = "rsi_oversold"
	RuleRSIOverbought   = "rsi_overbought"
	RuleRSICrossUp      = "rsi_cross_up"
	RuleRSICrossDown    = "rsi_cross_down"
	RuleStochOversold   = "stochrsi_oversold"
	RuleStochOverbought = "stochrsi_overbought"
	RuleStochCrossUp    = "stochrsi_cross_up"
	RuleStochCrossDown  = "stochrsi_cross_down"
	RuleMACDCrossUp     = "macd_cross_up"
	RuleMACDCrossDown   = "macd_cross_down"
)

// condition reports whether it holds on cur. prev is nil on the first row.
type condition func(c *Config, prev, cur *model.IndicatorRow) bool

var conditions = map[string]condition{
	RuleRSIOversold: func(c *Config, _, cur *model.IndicatorRow) bool {
		return cur.RSIReady && cur.RSI < c.RSIOversold
	},
	RuleRSIOverbought: func(c *Config, _, cur *model.IndicatorRow) bool {
		return cur.RSIReady && cur.RSI > c.RSIOverbought
	},
	RuleRSICrossUp: func(c *Config, prev, cur *model.IndicatorRow) bool {
		return prev != nil && prev.RSIReady && cur.RSIReady &&
			prev.RSI <= c.RSIOversold && cur.RSI > c.RSIOversold
	},
	RuleRSICrossDown: func(c *Config, prev, cur *model.IndicatorRow) bool {
		return prev != nil && prev.RSIReady && cur.RSIReady &&
			prev.RSI >= c.RSIOverbought && cur.RSI < c.RSIOverbought
	},
	RuleStochOversold: func(c *Config, _, cur *model.IndicatorRow) bool {
		return cur.StochReady && cur.StochK < c.StochOversold
	},
	RuleStochOverbought: func(c *Config, _, cur *model.IndicatorRow) bool {
		return cur.StochReady && cur.StochK > c.StochOverbought
	},
	// %K crossing %D, only counted in the oversold / overbought zone
	RuleStochCrossUp: func(c *Config, prev, cur *model.IndicatorRow) bool {
		return prev != nil && prev.StochReady && cur.StochReady &&
			prev.StochK <= prev.StochD && cur.StochK > cur.StochD && cur.StochD < c.StochOversold
	},
	RuleStochCrossDown: func(c *Config, prev, cur *model.IndicatorRow) bool {
		return prev != nil && prev.StochReady && cur.StochReady &&
			prev.StochK >= prev.StochD && cur.StochK < cur.StochD && cur.StochD > c.StochOverbought
	},
	RuleMACDCrossUp: func(_ *Config, prev, cur *model.IndicatorRow) bool {
		return prev != nil && prev.MACDReady && cur.MACDReady &&
			prev.MACD <= prev.MACDSignal && cur.MACD > cur.MACDSignal
	},
	RuleMACDCrossDown: func(_ *Config, prev, cur *model.IndicatorRow) bool {
		return prev != nil && prev.MACDReady && cur.MACDReady &&
			prev.MACD >= prev.MACDSignal && cur.MACD < cur.MACDSignal
	},
}

// RuleNames lists every known condition, sorted.
func RuleNames() []string {
	names := make([]string, 0, len(conditions))
	for n := range conditions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RuleSet combines named conditions with "all" or "any". An empty set
// never matches.
type RuleSet struct {
	Logic string   `json:"logic"`
	Rules []string `json:"rules"`
}

// Validate checks the logic keyword and every rule name.
func (rs RuleSet) Validate() error {
	switch rs.Logic {
	case "", LogicAll, LogicAny:
	default:
		return fmt.Errorf("unknown logic %q", rs.Logic)
	}
	for _, r := range rs.Rules {
		if _, ok := conditions[r]; !ok {
			return fmt.Errorf("unknown rule %q (known: %v)", r, RuleNames())
		}
	}
	return nil
}

// Match evaluates the set on cur. Unknown rule names evaluate to false.
func (rs RuleSet) Match(c *Config, prev, cur *model.IndicatorRow) bool {
	if len(rs.Rules) == 0 {
		return false
	}
	eval := func(name string) bool {
		cond, ok := conditions[name]
		return ok && cond(c, prev, cur)
	}
	if rs.Logic == LogicAny {
		return slices.ContainsFunc(rs.Rules, eval)
	}
	for _, r := range rs.Rules {
		if !eval(r) {
			return false
		}
	}
	return true
}
