package order

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Item is one ordered product.
type Item struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Quantity    string `json:"quantity"`
}

// Payload is a normalized order event. It accepts both the item-list shape and
// the flat single-note shape, with English or Korean keys.
type Payload struct {
	Orderer string `json:"orderer"`
	Items   []Item `json:"items,omitempty"`
	Note    string `json:"note,omitempty"`
}

var (
	ordererKeys = []string{"orderer", "customer_number", "customer", "고객번호"}
	itemsKeys   = []string{"items", "상품목록"}
	noteKeys    = []string{"note", "content", "내용"}

	nameKeys     = []string{"name", "이름"}
	descKeys     = []string{"description", "설명"}
	categoryKeys = []string{"category", "종류"}
	quantityKeys = []string{"quantity", "수량"}
)

// UnmarshalJSON decodes a free-form order object. Unknown keys are ignored and
// wrongly typed values degrade to empty fields instead of failing.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("order payload must be a JSON object: %w", err)
	}
	*p = FromMap(raw)
	return nil
}

// FromMap normalizes a decoded JSON object into a Payload.
func FromMap(raw map[string]any) Payload {
	p := Payload{
		Orderer: lookupString(raw, ordererKeys),
		Note:    lookupString(raw, noteKeys),
	}

	for _, key := range itemsKeys {
		list, ok := raw[key].([]any)
		if !ok {
			continue
		}
		p.Items = make([]Item, 0, len(list))
		for _, entry := range list {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			p.Items = append(p.Items, Item{
				Name:        lookupString(fields, nameKeys),
				Description: lookupString(fields, descKeys),
				Category:    lookupString(fields, categoryKeys),
				Quantity:    lookupString(fields, quantityKeys),
			})
		}
		break
	}
	return p
}

func lookupString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		if s := stringify(fields[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
