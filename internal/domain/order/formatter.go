// Package order turns inbound order events into chat notification text.
package order

import "strings"

const (
	defaultOrderer  = "익명"
	defaultItemName = "주문 상품"
	defaultQuantity = "1"
)

// markers maps a product category to the decoration placed around its name.
// Keys are case-sensitive; unknown categories get no marker.
var markers = map[string]string{
	"프리미엄":    "⭐",
	"premium": "⭐",
	"특가":      "★",
	"special": "★",
	"일반":      "",
	"normal":  "",
}

// Marker returns the decoration for a category.
func Marker(category string) string {
	return markers[category]
}

// Format renders the notification text for an order. It never fails: missing
// fields fall back to default labels.
//
// A nil Items means the order carried no item list, so the note line is
// rendered instead. An empty, non-nil list renders the header alone.
func Format(p Payload) string {
	var b strings.Builder

	b.WriteString(OrdererOrDefault(p.Orderer))
	b.WriteString("님 주문!\n")

	if p.Items == nil {
		note := p.Note
		if note == "" {
			note = defaultItemName
		}
		b.WriteString(note)
		b.WriteString("\n")
		return strings.TrimSpace(b.String())
	}

	for _, item := range p.Items {
		name := item.Name
		if name == "" {
			name = defaultItemName
		}
		qty := item.Quantity
		if qty == "" {
			qty = defaultQuantity
		}
		m := Marker(item.Category)

		b.WriteString(m)
		b.WriteString(name)
		b.WriteString(m)
		if item.Description != "" {
			b.WriteString(" ")
			b.WriteString(item.Description)
		}
		b.WriteString(", ")
		b.WriteString(qty)
		b.WriteString("개\n")
	}

	return strings.TrimSpace(b.String())
}

// OrdererOrDefault returns the orderer label used in the header line.
func OrdererOrDefault(orderer string) string {
	if orderer == "" {
		return defaultOrderer
	}
	return orderer
}
