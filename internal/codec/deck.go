// internal/codec/deck.go
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jason-s-yu/pickup/internal/models"
)

var (
	// ErrMalformedPayload is returned when a line is not a well-formed deck document.
	ErrMalformedPayload = errors.New("malformed deck payload")

	// ErrEmptyDeck is returned when a deck document parses but holds no cards.
	// The caller keeps whatever deck it already had.
	ErrEmptyDeck = errors.New("empty deck")
)

// wireObject is one JSON object keyed by exact field name. encoding/json folds
// case when it fills structs, so keys are matched here instead.
type wireObject map[string]json.RawMessage

// field decodes the value stored under name into dst. A missing key and an
// explicit null are both errors.
func (o wireObject) field(name string, dst any) error {
	raw, ok := o[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("missing %s", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %v", name, err)
	}
	return nil
}

// Decode parses one dealer line into a Deck. Cards keep the order they had in
// the payload. Fields the dealer adds beyond count and cards are ignored.
func Decode(raw string) (models.Deck, error) {
	raw = strings.TrimRight(raw, "\r\n")
	if strings.TrimSpace(raw) == "" {
		return models.Deck{}, fmt.Errorf("%w: empty line", ErrMalformedPayload)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	var doc wireObject
	if err := dec.Decode(&doc); err != nil {
		return models.Deck{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// Exactly one document per line.
	if _, err := dec.Token(); err != io.EOF {
		return models.Deck{}, fmt.Errorf("%w: trailing data after document", ErrMalformedPayload)
	}
	if doc == nil {
		return models.Deck{}, fmt.Errorf("%w: document is null", ErrMalformedPayload)
	}

	var count int
	if err := doc.field("count", &count); err != nil {
		return models.Deck{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var wcards []wireObject
	if err := doc.field("cards", &wcards); err != nil {
		return models.Deck{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if count != len(wcards) {
		return models.Deck{}, fmt.Errorf("%w: count %d does not match %d cards", ErrMalformedPayload, count, len(wcards))
	}
	if len(wcards) > models.MaxDeckSize {
		return models.Deck{}, fmt.Errorf("%w: %d cards exceeds a full deck", ErrMalformedPayload, len(wcards))
	}
	if len(wcards) == 0 {
		return models.Deck{}, ErrEmptyDeck
	}

	cards := make([]models.Card, 0, len(wcards))
	for i, wc := range wcards {
		var suit string
		if err := wc.field("suit", &suit); err != nil {
			return models.Deck{}, fmt.Errorf("%w: card %d: %v", ErrMalformedPayload, i, err)
		}
		var value int
		if err := wc.field("value", &value); err != nil {
			return models.Deck{}, fmt.Errorf("%w: card %d: %v", ErrMalformedPayload, i, err)
		}
		c := models.Card{Suit: models.Suit(suit), Rank: value}
		if !c.Suit.Valid() {
			return models.Deck{}, fmt.Errorf("%w: card %d has unknown suit %q", ErrMalformedPayload, i, suit)
		}
		if !c.Valid() {
			return models.Deck{}, fmt.Errorf("%w: card %d has rank %d outside %d..%d", ErrMalformedPayload, i, c.Rank, models.MinRank, models.MaxRank)
		}
		cards = append(cards, c)
	}
	return models.NewDeck(cards), nil
}

// Encode renders a deck in the dealer's wire format, without the trailing newline.
func Encode(d models.Deck) (string, error) {
	cards := d.Cards()
	doc := struct {
		Count int           `json:"count"`
		Cards []models.Card `json:"cards"`
	}{Count: len(cards), Cards: cards}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode deck: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
