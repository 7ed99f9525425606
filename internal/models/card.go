// internal/models/card.go
package models

import (
	"fmt"
	"strconv"
)

// Suit is one of the four French suits as named on the wire.
type Suit string

const (
	Club    Suit = "Club"
	Spade   Suit = "Spade"
	Diamond Suit = "Diamond"
	Heart   Suit = "Heart"
)

// Suits lists every suit in the order the dealer builds a fresh deck.
var Suits = []Suit{Club, Spade, Diamond, Heart}

// Rank bounds. 1 is the Ace, 11-13 are the face cards.
const (
	Ace   = 1
	Jack  = 11
	Queen = 12
	King  = 13

	MinRank = Ace
	MaxRank = King
)

// MaxDeckSize is the size of a full deck.
const MaxDeckSize = 52

// Valid reports whether s is one of the four known suits.
func (s Suit) Valid() bool {
	switch s {
	case Club, Spade, Diamond, Heart:
		return true
	}
	return false
}

// Red reports whether the suit is printed in red.
func (s Suit) Red() bool {
	return s == Diamond || s == Heart
}

// Card is an immutable playing card. Two cards are equal when suit and rank match.
type Card struct {
	Suit Suit `json:"suit"`
	Rank int  `json:"value"`
}

// Valid reports whether the card has a known suit and a rank in 1..13.
func (c Card) Valid() bool {
	return c.Suit.Valid() && c.Rank >= MinRank && c.Rank <= MaxRank
}

// RankName returns the display name for the card's rank ("Ace", "7", "King").
func (c Card) RankName() string {
	switch c.Rank {
	case Ace:
		return "Ace"
	case Jack:
		return "Jack"
	case Queen:
		return "Queen"
	case King:
		return "King"
	}
	return strconv.Itoa(c.Rank)
}

// AssetKey is the key a presentation layer uses to look up the card face,
// e.g. "1Heart" for the Ace of Heart.
func (c Card) AssetKey() string {
	return strconv.Itoa(c.Rank) + string(c.Suit)
}

func (c Card) String() string {
	return fmt.Sprintf("%s of %s", c.RankName(), c.Suit)
}
