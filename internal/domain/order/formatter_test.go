package order

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) Payload {
	t.Helper()
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	return p
}

func TestFormat_PremiumItem(t *testing.T) {
	p := decode(t, `{"orderer":"Kim","items":[{"name":"Coffee","category":"premium","quantity":2}]}`)

	text := Format(p)

	assert.Equal(t, "Kim님 주문!\n⭐Coffee⭐, 2개", text)
	assert.Contains(t, text, "⭐Coffee⭐")
	assert.Contains(t, text, "2개")
}

func TestFormat_KoreanKeys(t *testing.T) {
	p := decode(t, `{"고객번호":"A-17","상품목록":[
		{"이름":"라떼","설명":"아이스","종류":"특가","수량":"3"},
		{"이름":"쿠키","종류":"일반","수량":1}
	]}`)

	text := Format(p)

	lines := strings.Split(text, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "A-17님 주문!", lines[0])
	assert.Equal(t, "★라떼★ 아이스, 3개", lines[1])
	assert.Equal(t, "쿠키, 1개", lines[2])
}

func TestFormat_Defaults(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty object", `{}`, "익명님 주문!\n주문 상품"},
		{"flat note", `{"customer_number":"42","note":"  케이크 1개  "}`, "42님 주문!\n케이크 1개"},
		{"items not a list", `{"items":"coffee","content":"직접 입력"}`, "익명님 주문!\n직접 입력"},
		{"item with nothing", `{"items":[{}]}`, "익명님 주문!\n주문 상품, 1개"},
		{"empty item list", `{"orderer":"Kim","items":[],"note":"ignored"}`, "Kim님 주문!"},
		{"no usable items", `{"items":[1,"a"]}`, "익명님 주문!"},
		{"wrong types", `{"orderer":{"x":1},"items":[1,"a",{"name":7}]}`, "익명님 주문!\n7, 1개"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(decode(t, tt.body)))
		})
	}
}

func TestMarker_CaseSensitive(t *testing.T) {
	assert.Equal(t, "⭐", Marker("premium"))
	assert.Equal(t, "⭐", Marker("프리미엄"))
	assert.Equal(t, "★", Marker("special"))
	assert.Equal(t, "", Marker("Premium"))
	assert.Equal(t, "", Marker("unknown"))
}

func TestPayload_RejectsNonObject(t *testing.T) {
	var p Payload
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &p))
}
