package bus

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Command is the inbound add-torrent message consumed from the command
// queue.
type Command struct {
	RequestID string `json:"id"`
	MagnetURI string `json:"magnetLink"`
	Category  string `json:"category"`
}

// ErrInvalidCommand marks a command that fails field validation. Never
// retried: the message is dropped without requeue.
var ErrInvalidCommand = errors.New("bus: invalid command")

// Validate checks field presence and shape before the command reaches the
// download client. categories is the configured allow-list.
func (c Command) Validate(categories []string) error {
	if c.RequestID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCommand)
	}

	if !strings.HasPrefix(c.MagnetURI, "magnet:") {
		return fmt.Errorf("%w: magnetLink must start with magnet:", ErrInvalidCommand)
	}

	if !slices.Contains(categories, c.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidCommand, c.Category)
	}

	return nil
}
