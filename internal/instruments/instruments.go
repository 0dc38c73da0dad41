// Package instruments loads the broker's instrument master CSV into a
// process-scoped, read-only lookup table. The store is constructed once at
// startup and passed by reference to anything that needs reference data.
package instruments

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

// Record is one row of the instrument master. Column names follow the Dhan
// scrip master export; extra columns in the file are ignored.
type Record struct {
	TradingSymbol  string  `csv:"SEM_TRADING_SYMBOL"`
	Exchange       string  `csv:"SEM_EXM_EXCH_ID"`
	InstrumentType string  `csv:"SEM_EXCH_INSTRUMENT_TYPE"`
	ExpiryDate     string  `csv:"SEM_EXPIRY_DATE"`
	StrikePrice    float64 `csv:"SEM_STRIKE_PRICE"`
	OptionType     string  `csv:"SEM_OPTION_TYPE"`
	LotUnits       int     `csv:"SEM_LOT_UNITS"`
}

// Store is an immutable symbol-keyed view of the instrument master.
type Store struct {
	bySymbol map[string]Record
}

// Load reads the instrument master CSV at path. Rows without a trading symbol
// are dropped; the first row wins on duplicate symbols.
func Load(path string) (*Store, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("opening instrument master: %w", err)
	}
	defer f.Close()

	var records []Record
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("parsing instrument master %s: %w", path, err)
	}

	bySymbol := make(map[string]Record, len(records))
	for _, r := range records {
		symbol := strings.TrimSpace(r.TradingSymbol)
		if symbol == "" {
			continue
		}
		if _, exists := bySymbol[symbol]; exists {
			continue
		}
		r.TradingSymbol = symbol
		bySymbol[symbol] = r
	}

	if len(bySymbol) == 0 {
		return nil, fmt.Errorf("instrument master %s contains no usable rows", path)
	}

	return &Store{bySymbol: bySymbol}, nil
}

// Lookup returns the record for a trading symbol.
func (s *Store) Lookup(tradingSymbol string) (Record, bool) {
	r, ok := s.bySymbol[strings.TrimSpace(tradingSymbol)]
	return r, ok
}

// LotSize returns the lot size recorded for a trading symbol, if present.
// Used as the fallback when the broker's live lot-size lookup fails.
func (s *Store) LotSize(tradingSymbol string) (int, bool) {
	r, ok := s.Lookup(tradingSymbol)
	if !ok || r.LotUnits <= 0 {
		return 0, false
	}
	return r.LotUnits, true
}

// Len returns the number of loaded instruments.
func (s *Store) Len() int {
	return len(s.bySymbol)
}
