// Package command defines the single mutation unit stored in the WAL and in
// segment blocks.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the Command variants.
type Kind uint8

const (
	KindPut Kind = iota + 1
	KindDelete
)

const (
	tagPut    = "SET"
	tagDelete = "RM"
)

var (
	ErrUnknownKind = errors.New("unknown command kind")
	ErrMissingKey  = errors.New("command without key")
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return tagPut
	case KindDelete:
		return tagDelete
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Command is either Put{Key, Value} or Delete{Key}. Value is empty for Delete.
type Command struct {
	Kind  Kind
	Key   string
	Value string
}

func Put(key, value string) Command {
	return Command{Kind: KindPut, Key: key, Value: value}
}

func Delete(key string) Command {
	return Command{Kind: KindDelete, Key: key}
}

func (c Command) IsDelete() bool {
	return c.Kind == KindDelete
}

// wire is the JSON shape of a command. Type is always present.
type wire struct {
	Type  string  `json:"type"`
	Key   string  `json:"key"`
	Value *string `json:"value,omitempty"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindPut:
		v := c.Value
		return json.Marshal(wire{Type: tagPut, Key: c.Key, Value: &v})
	case KindDelete:
		return json.Marshal(wire{Type: tagDelete, Key: c.Key})
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, c.Kind)
	}
}

func (c *Command) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if w.Key == "" {
		return ErrMissingKey
	}

	switch w.Type {
	case tagPut:
		if w.Value == nil {
			return fmt.Errorf("SET command %q without value", w.Key)
		}
		*c = Put(w.Key, *w.Value)
	case tagDelete:
		*c = Delete(w.Key)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}

	return nil
}

// Encode serializes a command for the WAL or a segment block.
func Encode(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses bytes produced by Encode. Any malformed input yields an
// error; callers decide whether to skip the record.
func Decode(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return c, nil
}
