package models

import "strings"

// MarketType 市场类型
type MarketType string

const (
	MarketMetals MarketType = "metals"
	MarketCrypto MarketType = "crypto"
)

// ParseMarketType maps a config value to a MarketType. Unknown values fall
// back to metals.
func ParseMarketType(s string) MarketType {
	if strings.EqualFold(strings.TrimSpace(s), string(MarketCrypto)) {
		return MarketCrypto
	}
	return MarketMetals
}

// InstrumentCatalogEntry 品种静态参考数据
type InstrumentCatalogEntry struct {
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Unit           string  `json:"unit"`
	ReferencePrice float64 `json:"reference_price"` // 无法获取实时数据时使用的参考价 (USD)
}

// Catalog is an ordered, read-only list of instruments. Declaration order is
// the importance ordering used for "top" lists.
type Catalog struct {
	market  MarketType
	entries []InstrumentCatalogEntry
	index   map[string]int
}

// NewCatalog copies entries and indexes them by upper-cased symbol.
func NewCatalog(market MarketType, entries []InstrumentCatalogEntry) *Catalog {
	c := &Catalog{
		market:  market,
		entries: make([]InstrumentCatalogEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		e.Symbol = strings.ToUpper(e.Symbol)
		if _, dup := c.index[e.Symbol]; dup {
			continue
		}
		c.index[e.Symbol] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c
}

// CatalogFor returns the built-in catalogue of a market.
func CatalogFor(market MarketType) *Catalog {
	if market == MarketCrypto {
		return NewCatalog(MarketCrypto, cryptoInstruments)
	}
	return NewCatalog(MarketMetals, metalInstruments)
}

func (c *Catalog) Market() MarketType { return c.market }

func (c *Catalog) Len() int { return len(c.entries) }

// Lookup finds an entry by symbol, case-insensitively.
func (c *Catalog) Lookup(symbol string) (InstrumentCatalogEntry, bool) {
	i, ok := c.index[strings.ToUpper(symbol)]
	if !ok {
		return InstrumentCatalogEntry{}, false
	}
	return c.entries[i], true
}

// Top returns up to n entries in declaration order.
func (c *Catalog) Top(n int) []InstrumentCatalogEntry {
	if n < 0 {
		n = 0
	}
	if n > len(c.entries) {
		n = len(c.entries)
	}
	out := make([]InstrumentCatalogEntry, n)
	copy(out, c.entries[:n])
	return out
}

// Symbols lists every symbol in declaration order.
func (c *Catalog) Symbols() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Symbol
	}
	return out
}

// Canonical is the symbol used for health probes.
func (c *Catalog) Canonical() string {
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[0].Symbol
}

var metalInstruments = []InstrumentCatalogEntry{
	{Symbol: "XAU", Name: "Gold", Unit: "oz", ReferencePrice: 2050},
	{Symbol: "XAG", Name: "Silver", Unit: "oz", ReferencePrice: 24.5},
	{Symbol: "XPT", Name: "Platinum", Unit: "oz", ReferencePrice: 950},
	{Symbol: "XPD", Name: "Palladium", Unit: "oz", ReferencePrice: 1050},
	{Symbol: "XCU", Name: "Copper", Unit: "lb", ReferencePrice: 3.85},
	{Symbol: "ALU", Name: "Aluminum", Unit: "lb", ReferencePrice: 1.05},
	{Symbol: "NI", Name: "Nickel", Unit: "lb", ReferencePrice: 7.6},
	{Symbol: "ZNC", Name: "Zinc", Unit: "lb", ReferencePrice: 1.2},
	{Symbol: "LEAD", Name: "Lead", Unit: "lb", ReferencePrice: 0.95},
	{Symbol: "TIN", Name: "Tin", Unit: "lb", ReferencePrice: 11.8},
	{Symbol: "IRON", Name: "Iron Ore", Unit: "ton", ReferencePrice: 118},
	{Symbol: "XRH", Name: "Rhodium", Unit: "oz", ReferencePrice: 4600},
}

var cryptoInstruments = []InstrumentCatalogEntry{
	{Symbol: "BTC", Name: "Bitcoin", Unit: "coin", ReferencePrice: 43000},
	{Symbol: "ETH", Name: "Ethereum", Unit: "coin", ReferencePrice: 2300},
	{Symbol: "SOL", Name: "Solana", Unit: "coin", ReferencePrice: 98},
	{Symbol: "BNB", Name: "BNB", Unit: "coin", ReferencePrice: 310},
	{Symbol: "XRP", Name: "XRP", Unit: "coin", ReferencePrice: 0.55},
	{Symbol: "ADA", Name: "Cardano", Unit: "coin", ReferencePrice: 0.52},
	{Symbol: "DOGE", Name: "Dogecoin", Unit: "coin", ReferencePrice: 0.085},
	{Symbol: "AVAX", Name: "Avalanche", Unit: "coin", ReferencePrice: 35},
	{Symbol: "DOT", Name: "Polkadot", Unit: "coin", ReferencePrice: 7.2},
	{Symbol: "LINK", Name: "Chainlink", Unit: "coin", ReferencePrice: 14.5},
	{Symbol: "LTC", Name: "Litecoin", Unit: "coin", ReferencePrice: 70},
	{Symbol: "MATIC", Name: "Polygon", Unit: "coin", ReferencePrice: 0.8},
}
