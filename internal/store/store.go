// Package store holds the rules shared by every trade ledger backend. The
// backends themselves live in the sqlite and postgres subpackages; price
// caching lives in redis.
package store

import (
	"errors"
	"fmt"
	"time"

	"cryptodash/internal/model"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a trade id does not exist.
	ErrNotFound = errors.New("trade not found")
	// ErrDuplicate is returned when appending a trade id that already exists.
	ErrDuplicate = errors.New("trade already exists")
	// ErrInvalidLink is returned when a sell links to an unusable buy.
	ErrInvalidLink = errors.New("invalid linked buy")
)

// TimePrecision is the finest execution-time resolution every backend can
// store. PostgreSQL timestamps keep microseconds.
const TimePrecision = time.Microsecond

// Prepare normalizes a trade before it is written: the symbol is reduced to
// its base asset, a missing id is generated and the execution time is cut to
// TimePrecision. The result is validated.
func Prepare(t model.Trade) (model.Trade, error) {
	t.Symbol = model.NormalizeSymbol(t.Symbol)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.ExecutedAt = t.ExecutedAt.UTC().Truncate(TimePrecision)
	if err := t.Validate(); err != nil {
		return model.Trade{}, err
	}
	return t, nil
}

// CheckLink verifies that buy may be referenced by sell.LinkedBuyID: it must
// be a BUY of the same account and symbol executed strictly before the sell.
func CheckLink(sell, buy model.Trade) error {
	switch {
	case buy.Side != model.SideBuy:
		return fmt.Errorf("%w: %s is not a BUY", ErrInvalidLink, buy.ID)
	case buy.Account != sell.Account || buy.Symbol != sell.Symbol:
		return fmt.Errorf("%w: %s belongs to %s", ErrInvalidLink, buy.ID, buy.Key())
	case !buy.ExecutedAt.Before(sell.ExecutedAt):
		return fmt.Errorf("%w: %s is not earlier than the sell", ErrInvalidLink, buy.ID)
	}
	return nil
}
