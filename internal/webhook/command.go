package webhook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"backspread-webhook/internal/models"
)

// ErrUnknownCommand marks messages that do not parse as a trading command.
// The dispatcher acknowledges these with an "ignored" response instead of an
// error.
var ErrUnknownCommand = errors.New("unrecognized command")

// CommandKind distinguishes entries from exits.
type CommandKind string

const (
	KindEntry CommandKind = "entry"
	KindExit  CommandKind = "exit"
)

// Command is a parsed webhook message of the form {SYMBOL}-{ACTION}.
type Command struct {
	Raw  string
	Root string
	Kind CommandKind

	// Entry fields. SellRatio is always half the buy ratio.
	Side      models.OptionSide
	BuyRatio  int
	SellRatio int

	// Exit field.
	Fraction models.CloseFraction
}

// ParseCommand normalizes and parses an alert message. Accepted actions are
// EXIT-FULL, EXIT-HALF, ENTRY-CALL-{N} and ENTRY-PUT-{N} where N is a
// positive even contract count. Anything else is ErrUnknownCommand.
func ParseCommand(message string) (Command, error) {
	raw := strings.ToUpper(strings.TrimSpace(message))
	if raw == "" {
		return Command{}, fmt.Errorf("%w: empty message", ErrUnknownCommand)
	}

	parts := strings.SplitN(raw, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}

	cmd := Command{Raw: raw, Root: parts[0]}
	action := parts[1]

	switch action {
	case "EXIT-FULL":
		cmd.Kind = KindExit
		cmd.Fraction = models.CloseFull
		return cmd, nil
	case "EXIT-HALF":
		cmd.Kind = KindExit
		cmd.Fraction = models.CloseHalf
		return cmd, nil
	}

	entryParts := strings.Split(action, "-")
	if len(entryParts) != 3 || entryParts[0] != "ENTRY" {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}

	var side models.OptionSide
	switch entryParts[1] {
	case "CALL":
		side = models.SideCall
	case "PUT":
		side = models.SidePut
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}

	n, err := strconv.Atoi(entryParts[2])
	if err != nil || n <= 0 || n%2 != 0 {
		return Command{}, fmt.Errorf("%w: bad ratio count in %q", ErrUnknownCommand, raw)
	}

	cmd.Kind = KindEntry
	cmd.Side = side
	cmd.BuyRatio = n
	cmd.SellRatio = n / 2
	return cmd, nil
}
