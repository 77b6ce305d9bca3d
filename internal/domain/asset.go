package domain

import (
	"sort"
	"strings"
)

// Asset is a row of crypto_assets.
type Asset struct {
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	CoinGeckoID string   `json:"coingecko_id,omitempty"`
	IsActive    bool     `json:"is_active"`
}

// SymbolCatalog is an immutable view of the active assets for one run.
type SymbolCatalog struct {
	symbols []string
	assets  map[string]Asset
	terms   map[string][]string
}

// NewSymbolCatalog keeps active assets only. Match terms are the lowercased
// display name plus aliases; the symbol itself is used when the name is blank.
func NewSymbolCatalog(assets []Asset) SymbolCatalog {
	c := SymbolCatalog{
		assets: make(map[string]Asset, len(assets)),
		terms:  make(map[string][]string, len(assets)),
	}
	for _, a := range assets {
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if symbol == "" || !a.IsActive {
			continue
		}
		if _, dup := c.assets[symbol]; dup {
			continue
		}
		a.Symbol = symbol
		c.assets[symbol] = a
		c.symbols = append(c.symbols, symbol)
		c.terms[symbol] = matchTerms(a)
	}
	sort.Strings(c.symbols)
	return c
}

func matchTerms(a Asset) []string {
	seen := make(map[string]struct{}, len(a.Aliases)+1)
	terms := make([]string, 0, len(a.Aliases)+1)
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		terms = append(terms, s)
	}

	if strings.TrimSpace(a.Name) == "" {
		add(a.Symbol)
	} else {
		add(a.Name)
	}
	for _, alias := range a.Aliases {
		add(alias)
	}
	return terms
}

// Symbols returns the active symbols in sorted order.
func (c SymbolCatalog) Symbols() []string {
	return append([]string(nil), c.symbols...)
}

func (c SymbolCatalog) Len() int { return len(c.symbols) }

func (c SymbolCatalog) Asset(symbol string) (Asset, bool) {
	a, ok := c.assets[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

func (c SymbolCatalog) Contains(symbol string) bool {
	_, ok := c.Asset(symbol)
	return ok
}

// MatchTerms returns the lowercase strings matched against free-text asset columns.
func (c SymbolCatalog) MatchTerms(symbol string) []string {
	return append([]string(nil), c.terms[strings.ToUpper(strings.TrimSpace(symbol))]...)
}

// Filter keeps requested symbols that are in the catalog, preserving order.
// An empty request selects every active symbol.
func (c SymbolCatalog) Filter(requested []string) (selected []string, unknown []string) {
	if len(requested) == 0 {
		return c.Symbols(), nil
	}
	seen := make(map[string]struct{}, len(requested))
	for _, raw := range requested {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		if c.Contains(symbol) {
			selected = append(selected, symbol)
		} else {
			unknown = append(unknown, symbol)
		}
	}
	return selected, unknown
}

// Assets returns the catalog's assets in symbol order.
func (c SymbolCatalog) Assets() []Asset {
	out := make([]Asset, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, c.assets[s])
	}
	return out
}
