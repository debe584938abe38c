package services

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePlainText(t *testing.T) {
	content := PlainText("Hallo Welt")
	stored := EncodeContent(content)

	// Klartext wird unverändert durchgereicht, kein Wrapper.
	assert.Equal(t, "Hallo Welt", stored)

	decoded := DecodeContent(stored)
	assert.Equal(t, ContentPlainText, decoded.Kind)
	assert.Equal(t, "Hallo Welt", decoded.Text)
}

func TestEncodeDecodeRenderedMarkup(t *testing.T) {
	content := RenderedMarkup("<p>verified</p>")
	stored := EncodeContent(content)

	assert.True(t, strings.Contains(stored, "__isRenderedHTML"))

	decoded := DecodeContent(stored)
	assert.Equal(t, ContentRenderedMarkup, decoded.Kind)
	assert.Equal(t, "<p>verified</p>", decoded.Text)
}

func TestEncodeDecodeOpaqueData(t *testing.T) {
	content := OpaqueData(map[string]any{"verified": float64(3), "total": float64(5)})
	stored := EncodeContent(content)

	assert.True(t, strings.Contains(stored, "__isObject"))

	decoded := DecodeContent(stored)
	require.Equal(t, ContentOpaqueData, decoded.Kind)
	data, ok := decoded.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), data["verified"])
	assert.Equal(t, float64(5), data["total"])
}

func TestDecodeIsTotal(t *testing.T) {
	// Jeder String muss ein Ergebnis liefern, nie ein Fehler. Nicht
	// parsebare oder nicht erkannte Inhalte degradieren zu Klartext.
	cases := []string{
		"",
		"nur Text",
		"{kaputtes json",
		`{"html": "x"}`,
		`{"fremd": true}`,
		`{"__isRenderedHTML": "nope"}`,
	}
	for _, stored := range cases {
		decoded := DecodeContent(stored)
		assert.Equal(t, ContentPlainText, decoded.Kind, "input: %q", stored)
		assert.Equal(t, stored, decoded.Text, "input: %q", stored)
	}
}

func TestDecodeObjectWrapperWithStringPayload(t *testing.T) {
	// Ein String ist eine gültige data-Payload und bleibt strukturiert.
	decoded := DecodeContent(`{"__isObject": true, "data": "###"}`)
	require.Equal(t, ContentOpaqueData, decoded.Kind)
	assert.Equal(t, "###", decoded.Data)
}

func TestDecodeUnknownDiscriminatorStaysVerbatim(t *testing.T) {
	stored := `{"message": "sieht aus wie JSON, ist aber Klartext"}`
	decoded := DecodeContent(stored)
	assert.Equal(t, ContentPlainText, decoded.Kind)
	assert.Equal(t, stored, decoded.Text)
}

func TestContentFromJSON(t *testing.T) {
	plain := ContentFromJSON(json.RawMessage(`"eine Frage"`))
	assert.Equal(t, ContentPlainText, plain.Kind)
	assert.Equal(t, "eine Frage", plain.Text)

	markup := ContentFromJSON(json.RawMessage(`{"html": "<b>ok</b>", "rendered": true}`))
	assert.Equal(t, ContentRenderedMarkup, markup.Kind)
	assert.Equal(t, "<b>ok</b>", markup.Text)

	opaque := ContentFromJSON(json.RawMessage(`{"stats": {"verified": 1}}`))
	assert.Equal(t, ContentOpaqueData, opaque.Kind)
}

func TestMarshalRoundTripThroughAPI(t *testing.T) {
	// Was die API rendert, muss ContentFromJSON wieder klassifizieren können.
	original := RenderedMarkup("<ul><li>ref</li></ul>")
	rendered, err := json.Marshal(original)
	require.NoError(t, err)

	back := ContentFromJSON(rendered)
	assert.Equal(t, ContentRenderedMarkup, back.Kind)
	assert.Equal(t, original.Text, back.Text)
}

func TestEncodeUnserializableDataDegrades(t *testing.T) {
	// Kanäle sind nicht serialisierbar; der Codec darf trotzdem nicht fehlschlagen.
	stored := EncodeContent(OpaqueData(make(chan int)))
	decoded := DecodeContent(stored)
	assert.Equal(t, ContentPlainText, decoded.Kind)
}
