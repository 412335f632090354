package dispatch

import (
	"fmt"
	"strings"

	"github.com/nerrad567/relay-core/internal/relay"
)

// commandPrefix starts every payload understood by the relay board.
const commandPrefix = "CMD"

// Token returns the board token for one pin, e.g. "RON07" or "ROFF12".
func Token(cmd relay.Command, pin int) (string, error) {
	if err := relay.ValidatePin(pin); err != nil {
		return "", err
	}
	switch cmd {
	case relay.CommandOn:
		return fmt.Sprintf("RON%02d", pin), nil
	case relay.CommandOff:
		return fmt.Sprintf("ROFF%02d", pin), nil
	default:
		return "", fmt.Errorf("dispatch: unknown command %d", cmd)
	}
}

// EncodeCommand builds the payload switching every pin the same way:
// "CMD " followed by one token per pin, separated by single spaces.
func EncodeCommand(cmd relay.Command, pins ...int) ([]byte, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("dispatch: no pins to encode")
	}

	var b strings.Builder
	b.WriteString(commandPrefix)
	for _, pin := range pins {
		tok, err := Token(cmd, pin)
		if err != nil {
			return nil, err
		}
		b.WriteByte(' ')
		b.WriteString(tok)
	}
	return []byte(b.String()), nil
}
