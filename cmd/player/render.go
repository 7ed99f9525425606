package main

import (
	"fmt"

	"github.com/jason-s-yu/pickup/internal/models"
	"github.com/pterm/pterm"
)

// cardsPerRow lays the deck out one suit's worth per line.
const cardsPerRow = 13

var suitSymbols = map[models.Suit]string{
	models.Club:    "♣",
	models.Spade:   "♠",
	models.Diamond: "♦",
	models.Heart:   "♥",
}

// cardLabel is the short face shown on the table, e.g. "A♥" or "10♣".
func cardLabel(c models.Card) string {
	rank := c.RankName()
	if c.Rank == models.Ace || c.Rank >= models.Jack {
		rank = rank[:1]
	}
	return rank + suitSymbols[c.Suit]
}

func styledLabel(c models.Card) string {
	if c.Suit.Red() {
		return pterm.LightRed(cardLabel(c))
	}
	return pterm.LightWhite(cardLabel(c))
}

// renderDeck draws the cards in dealer order inside a box headed by the card count.
func renderDeck(d models.Deck) (string, error) {
	var rows [][]string
	row := make([]string, 0, cardsPerRow)
	for _, c := range d.Cards() {
		row = append(row, styledLabel(c))
		if len(row) == cardsPerRow {
			rows = append(rows, row)
			row = make([]string, 0, cardsPerRow)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	table, err := pterm.DefaultTable.WithData(rows).Srender()
	if err != nil {
		return "", fmt.Errorf("render deck: %w", err)
	}
	// The title goes in the body: pterm cannot centre a box title wider than
	// the content, and a short deck is narrower than the title.
	title := pterm.LightYellow(fmt.Sprintf("|DECK %d CARDS|", d.Len()))
	box := pterm.DefaultBox.WithLeftPadding(2).WithRightPadding(2)
	return box.Sprint(title + "\n\n" + table), nil
}
