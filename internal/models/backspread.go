// Package models defines the domain types for the ratio backspread service:
// underlyings, strike quotes, strategy legs, executed plans and close summaries.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionSide identifies the option contract type of a strategy leg.
type OptionSide string

const (
	// SideCall represents a call option leg.
	SideCall OptionSide = "CALL"
	// SidePut represents a put option leg.
	SidePut OptionSide = "PUT"
)

// Valid returns true if the OptionSide is one of the defined constants.
func (s OptionSide) Valid() bool {
	return s == SideCall || s == SidePut
}

// TransactionSide is the direction of an order.
type TransactionSide string

const (
	// Buy is a buy-side transaction.
	Buy TransactionSide = "BUY"
	// Sell is a sell-side transaction.
	Sell TransactionSide = "SELL"
)

// LegRole distinguishes the two legs of a backspread.
type LegRole string

const (
	// RoleATM marks the bought at-the-money leg.
	RoleATM LegRole = "ATM"
	// RoleITM marks the sold in-the-money leg.
	RoleITM LegRole = "ITM"
)

// CloseFraction selects how much of each open position an exit sweep closes.
type CloseFraction string

const (
	// CloseFull closes the entire net quantity of each position.
	CloseFull CloseFraction = "FULL"
	// CloseHalf closes a lot-rounded half of each position.
	CloseHalf CloseFraction = "HALF"
)

// Underlying is the per-instrument configuration record that parameterizes the
// strategy: one record replaces one family of per-symbol functions.
type Underlying struct {
	Root                  string  // trading symbol root, e.g. "NIFTY"
	Exchange              string  // derivatives exchange, e.g. "NFO"
	ProductType           string  // broker product type, e.g. "INTRADAY"
	StrikeStep            float64 // distance between adjacent strikes
	FallbackLotSize       int     // used when the broker lot-size lookup fails
	FallbackATMPrice      float64 // used only under the "fallback" quote policy; 0 disables
	Index                 bool    // index vs single-stock derivative
	RatioCounts           []int   // entry ratio counts this underlying accepts
	AutoFlattenOnMismatch bool    // flatten everything when post-trade verification fails
}

// AllowsRatio reports whether n is a configured entry ratio count for u.
func (u Underlying) AllowsRatio(n int) bool {
	for _, r := range u.RatioCounts {
		if r == n {
			return true
		}
	}
	return false
}

// StrikeQuote is an ephemeral last-traded-price observation for one candidate
// strike. It lives only for the duration of a single strike-selection call.
type StrikeQuote struct {
	Strike    float64 `json:"strike"`
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
}

// RatioLeg is one executed leg of a backspread plan.
type RatioLeg struct {
	Role      LegRole         `json:"role"`
	Side      TransactionSide `json:"side"`
	Symbol    string          `json:"symbol"`
	Strike    float64         `json:"strike"`
	Quantity  int             `json:"quantity"`
	UnitPrice float64         `json:"unit_price"`
	OrderIDs  []string        `json:"order_ids,omitempty"`
}

// BackspreadPlan is the result of one strategy invocation: both legs plus the
// derived risk fields. Plans are not persisted as position state; the broker's
// ledger stays authoritative.
type BackspreadPlan struct {
	ID          string     `json:"id"`
	Underlying  string     `json:"underlying"`
	Side        OptionSide `json:"option_type"`
	BuyRatio    int        `json:"buy_ratio"`
	SellRatio   int        `json:"sell_ratio"`
	LotSize     int        `json:"lot_size"`
	ATMLeg      RatioLeg   `json:"atm_leg"`
	ITMLeg      RatioLeg   `json:"itm_leg"`
	NetPosition float64    `json:"net_position"`
	// MaxRisk is signed: negative means net credit received.
	MaxRisk   float64   `json:"max_risk"`
	Breakeven float64   `json:"breakeven"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Validate checks the structural invariant of a plan: the ITM leg must lie
// strictly on the in-the-money side of the ATM strike for its option side.
func (p *BackspreadPlan) Validate() error {
	switch p.Side {
	case SideCall:
		if p.ITMLeg.Strike >= p.ATMLeg.Strike {
			return fmt.Errorf("call ITM strike %.2f not below ATM strike %.2f", p.ITMLeg.Strike, p.ATMLeg.Strike)
		}
	case SidePut:
		if p.ITMLeg.Strike <= p.ATMLeg.Strike {
			return fmt.Errorf("put ITM strike %.2f not above ATM strike %.2f", p.ITMLeg.Strike, p.ATMLeg.Strike)
		}
	default:
		return fmt.Errorf("invalid option side %q", p.Side)
	}
	return nil
}

// ClosedPosition records one position that an exit sweep flattened.
type ClosedPosition struct {
	Symbol   string          `json:"symbol"`
	Quantity int             `json:"quantity"`
	OrderIDs []string        `json:"order_ids"`
	Side     TransactionSide `json:"transaction_type"`
}

// ClosedSummary aggregates the outcome of a full or half close sweep.
type ClosedSummary struct {
	Underlying      string           `json:"underlying"`
	Fraction        CloseFraction    `json:"fraction"`
	PositionsClosed int              `json:"positions_closed"`
	Closed          []ClosedPosition `json:"closed_positions,omitempty"`
	TotalPositions  int              `json:"total_positions"`
	TotalMatching   int              `json:"total_matching_positions"`
	ActivePositions int              `json:"active_positions"`
}

// ExpiryLabel is the day and month token pair embedded in a trading symbol,
// e.g. {Day: "15", Month: "MAY"}.
type ExpiryLabel struct {
	Day   string
	Month string
}

func (e ExpiryLabel) String() string {
	return e.Day + " " + e.Month
}

// OptionSymbol builds a tradable option symbol of the form
// "ROOT DD MMM STRIKE CALL|PUT", the format the broker resolves ATM symbols in.
// Strikes are whole numbers for all supported underlyings.
func OptionSymbol(root string, expiry ExpiryLabel, strike float64, side OptionSide) string {
	return fmt.Sprintf("%s %s %s %d %s", root, expiry.Day, expiry.Month, int(strike), side)
}

// ParseExpiryFromSymbol extracts the expiry label from a broker-resolved ATM
// symbol ("ROOT DD MMM STRIKE CALL"). Rebuilding close-order symbols from the
// current expiry guards against stale symbols left over from a rolled expiry.
func ParseExpiryFromSymbol(symbol string) (ExpiryLabel, error) {
	parts := strings.Fields(symbol)
	if len(parts) < 3 {
		return ExpiryLabel{}, fmt.Errorf("symbol %q has no expiry components", symbol)
	}
	return ExpiryLabel{Day: parts[1], Month: parts[2]}, nil
}

// SideFromOptionType maps a broker position option-type token (CE/PE, or the
// full CALL/PUT words) to an OptionSide.
func SideFromOptionType(token string) (OptionSide, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "CE", "CALL":
		return SideCall, nil
	case "PE", "PUT":
		return SidePut, nil
	}
	return "", fmt.Errorf("unknown option type %q", token)
}

// OffsettingSide returns the transaction side that flattens a position of the
// given broker position type (LONG positions are sold, everything else bought).
func OffsettingSide(positionType string) TransactionSide {
	if strings.EqualFold(positionType, "LONG") {
		return Sell
	}
	return Buy
}

// HalfLotQuantity computes the exit quantity for a half close. Whole lots are
// halved rounding down, then incremented for odd lot counts so that at least
// half the position is closed, never less.
func HalfLotQuantity(currentQty, lotSize int) int {
	if lotSize <= 0 || currentQty <= 0 {
		return 0
	}
	currentLots := currentQty / lotSize
	halfLots := currentLots / 2
	if currentLots%2 != 0 {
		halfLots++
	}
	return halfLots * lotSize
}

// FormatStrike renders a strike for log output without a fractional part for
// whole-number strikes.
func FormatStrike(strike float64) string {
	if strike == float64(int64(strike)) {
		return strconv.FormatInt(int64(strike), 10)
	}
	return strconv.FormatFloat(strike, 'f', 2, 64)
}
