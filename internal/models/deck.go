// internal/models/deck.go
package models

// Deck is the dealer's deck as last communicated to the client.
// Card order reflects the dealer's shuffle. A Deck is never modified after
// construction; Cards hands out a copy.
type Deck struct {
	cards []Card
}

// NewDeck builds a Deck from cards, copying the slice so later changes by the
// caller are not observed.
func NewDeck(cards []Card) Deck {
	cp := make([]Card, len(cards))
	copy(cp, cards)
	return Deck{cards: cp}
}

// Cards returns the cards in dealer order.
func (d Deck) Cards() []Card {
	cp := make([]Card, len(d.cards))
	copy(cp, d.cards)
	return cp
}

// Len returns the number of cards in the deck.
func (d Deck) Len() int {
	return len(d.cards)
}

// At returns the i-th card. It panics if i is out of range, like a slice index.
func (d Deck) At(i int) Card {
	return d.cards[i]
}

// Empty reports whether the deck holds no cards. Empty decks are never
// accepted from the dealer.
func (d Deck) Empty() bool {
	return len(d.cards) == 0
}
