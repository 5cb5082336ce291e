package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Answer is a recorded response or an answer key. Single-value questions
// (MCQ, NUMERICAL) carry Text; multi-select questions carry Choices.
// On the wire it is either a JSON string or a JSON array of strings.
type Answer struct {
	Text    string
	Choices []string
}

// TextAnswer builds a single-value answer.
func TextAnswer(s string) Answer {
	return Answer{Text: s}
}

// ChoiceAnswer builds a multi-select answer.
func ChoiceAnswer(choices ...string) Answer {
	out := make([]string, len(choices))
	copy(out, choices)
	return Answer{Choices: out}
}

// IsMulti reports whether the answer is in set form.
func (a Answer) IsMulti() bool {
	return a.Choices != nil
}

// IsEmpty reports whether the answer counts as "not attempted":
// an empty string or an empty set.
func (a Answer) IsEmpty() bool {
	if a.Choices != nil {
		return len(a.Choices) == 0
	}
	return a.Text == ""
}

// String renders the answer as a single string. Sets are comma-joined.
func (a Answer) String() string {
	if a.Choices != nil {
		return strings.Join(a.Choices, ",")
	}
	return a.Text
}

// Set returns the answer as a list of option identifiers. A single-value
// answer becomes a one-element set.
func (a Answer) Set() []string {
	if a.Choices != nil {
		out := make([]string, len(a.Choices))
		copy(out, a.Choices)
		return out
	}
	if a.Text == "" {
		return nil
	}
	return []string{a.Text}
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	if a.Choices == nil {
		return Answer{Text: a.Text}
	}
	return ChoiceAnswer(a.Choices...)
}

// Equal reports whether two answers have identical shape and content.
func (a Answer) Equal(b Answer) bool {
	if a.IsMulti() != b.IsMulti() {
		return false
	}
	if !a.IsMulti() {
		return a.Text == b.Text
	}
	if len(a.Choices) != len(b.Choices) {
		return false
	}
	for i := range a.Choices {
		if a.Choices[i] != b.Choices[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the answer as a string or an array.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Choices != nil {
		return json.Marshal(a.Choices)
	}
	return json.Marshal(a.Text)
}

// UnmarshalJSON accepts a string, an array of strings, or null.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer{Text: s}
		return nil
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return errors.New("answer array must contain only strings")
		}
		if list == nil {
			list = []string{}
		}
		*a = Answer{Choices: list}
		return nil
	default:
		// Numbers are accepted for NUMERICAL convenience and kept verbatim.
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.New("answer must be a string or an array of strings")
		}
		*a = Answer{Text: n.String()}
		return nil
	}
}
