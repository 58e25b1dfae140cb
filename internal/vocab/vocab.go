// Package vocab maps characters to dense integer ids and back.
package vocab

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCharacter is returned when a rune or id is outside the vocabulary.
var ErrUnknownCharacter = errors.New("unknown character")

// Vocab is a bijection between the runes seen in a corpus and ids in [0, Size).
// It is immutable once built.
type Vocab struct {
	toID   map[rune]int
	toChar []rune
}

// Build creates a vocabulary from every distinct rune in text. Ids follow
// ascending rune order, so the same corpus always yields the same ids.
func Build(text string) *Vocab {
	seen := make(map[rune]struct{})
	for _, r := range text {
		seen[r] = struct{}{}
	}

	chars := make([]rune, 0, len(seen))
	for r := range seen {
		chars = append(chars, r)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })

	v, _ := FromChars(chars)
	return v
}

// FromChars rebuilds a vocabulary whose id i is chars[i].
func FromChars(chars []rune) (*Vocab, error) {
	v := &Vocab{
		toID:   make(map[rune]int, len(chars)),
		toChar: make([]rune, len(chars)),
	}
	for i, r := range chars {
		if prev, ok := v.toID[r]; ok {
			return nil, fmt.Errorf("duplicate character %q at ids %d and %d", r, prev, i)
		}
		v.toID[r] = i
		v.toChar[i] = r
	}
	return v, nil
}

// Size returns the number of distinct characters.
func (v *Vocab) Size() int {
	return len(v.toChar)
}

// Chars returns the characters in id order.
func (v *Vocab) Chars() []rune {
	return append([]rune(nil), v.toChar...)
}

// EncodeRune returns the id of r.
func (v *Vocab) EncodeRune(r rune) (int, error) {
	id, ok := v.toID[r]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCharacter, r)
	}
	return id, nil
}

// Encode converts text to ids, failing on the first rune outside the vocabulary.
func (v *Vocab) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		id, err := v.EncodeRune(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode returns the character with the given id.
func (v *Vocab) Decode(id int) (rune, error) {
	if id < 0 || id >= len(v.toChar) {
		return 0, fmt.Errorf("%w: id %d not in [0, %d)", ErrUnknownCharacter, id, len(v.toChar))
	}
	return v.toChar[id], nil
}

// DecodeAll converts ids back to text.
func (v *Vocab) DecodeAll(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		r, err := v.Decode(id)
		if err != nil {
			return "", err
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}
