package order

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultNumberPrefix is the store's order number prefix.
const DefaultNumberPrefix = "NPG"

// NumberGenerator produces human-readable order numbers of the form
// PREFIX-YEAR-XXXXXXXX from random bits, so concurrent checkouts need no
// shared counter.
type NumberGenerator struct {
	prefix string
	now    func() time.Time
}

// NewNumberGenerator returns a generator using prefix, or
// DefaultNumberPrefix when prefix is empty.
func NewNumberGenerator(prefix string) *NumberGenerator {
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	return &NumberGenerator{prefix: prefix, now: time.Now}
}

// Next returns a new order number.
func (g *NumberGenerator) Next() string {
	id := uuid.New()
	var b strings.Builder
	b.Grow(len(g.prefix) + 14)
	b.WriteString(g.prefix)
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(g.now().Year()))
	b.WriteByte('-')
	b.WriteString(strings.ToUpper(hex.EncodeToString(id[:4])))
	return b.String()
}
