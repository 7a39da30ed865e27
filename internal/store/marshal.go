package store

import (
	"fmt"

	"github.com/roach88/tablesync/internal/command"
)

// marshalCommand converts a command to canonical JSON TEXT and its digest.
func marshalCommand(c command.Command) (data, hash string, err error) {
	raw, err := command.EncodeJSON(c)
	if err != nil {
		return "", "", fmt.Errorf("marshal command: %w", err)
	}
	hash, err = command.Hash(c)
	if err != nil {
		return "", "", fmt.Errorf("hash command: %w", err)
	}
	return string(raw), hash, nil
}

// unmarshalCommand parses canonical JSON TEXT back into a command.
func unmarshalCommand(data string) (command.Command, error) {
	c, err := command.DecodeJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal command: %w", err)
	}
	return c, nil
}
