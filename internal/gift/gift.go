package gift

import (
	"strconv"
	"time"
)

// CatalogEntry describes one gift offered in a room
type CatalogEntry struct {
	ID    string
	Name  string
	Price string // Display price with unit, e.g. "10元" or "100鱼丸"
}

// Catalog maps gift id to its entry. It is built once at startup and never
// mutated afterwards, so concurrent reads need no locking.
type Catalog map[string]CatalogEntry

// NewCatalog builds a catalog keyed by entry id
func NewCatalog(entries []CatalogEntry) Catalog {
	c := make(Catalog, len(entries))
	for _, e := range entries {
		c[e.ID] = e
	}
	return c
}

// Lookup returns the entry for id
func (c Catalog) Lookup(id string) (CatalogEntry, bool) {
	e, ok := c[id]
	return e, ok
}

// Kind identifies the frame type an event was decoded from
type Kind string

const (
	KindGift   Kind = "dgb"
	KindReward Kind = "bc_buy_deserve"
)

// Event is a single accepted gift or tiered reward
type Event struct {
	Kind      Kind
	Sender    string
	Name      string
	Count     uint64
	Price     string
	Timestamp time.Time
	// Offset is the whole seconds between Timestamp and the recording start.
	// It can be negative for events decoded before the recording file showed up.
	Offset int64
}

// Row returns the export row: Name, Count, Price, Time, Offset
func (e *Event) Row(timeLayout string) []interface{} {
	return []interface{}{e.Name, e.Count, e.Price, e.Timestamp.Format(timeLayout), e.Offset}
}

// OffsetSeconds computes whole elapsed seconds from origin to ts, truncated toward zero
func OffsetSeconds(ts, origin time.Time) int64 {
	return int64(ts.Sub(origin) / time.Second)
}

// Tiered reward tables indexed by level (1-3)
var (
	rewardNames  = [...]string{"初级酬勤", "中级酬勤", "高级酬勤"}
	rewardPrices = [...]string{"15元", "30元", "50元"}
)

// Reward maps a reward level to its name and price.
// ok is false for level 0 and anything outside 1-3.
func Reward(level int) (name, price string, ok bool) {
	if level < 1 || level > len(rewardNames) {
		return "", "", false
	}
	return rewardNames[level-1], rewardPrices[level-1], true
}

// ParseCount parses a decimal count field
func ParseCount(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
