package services

import (
	"encoding/json"
	"strings"
)

// ContentKind unterscheidet die drei Inhaltsvarianten einer Message.
type ContentKind int

const (
	// ContentPlainText: einfacher Text, wird unverändert gespeichert.
	ContentPlainText ContentKind = iota
	// ContentRenderedMarkup: gerenderte Markup-Payload (HTML-String).
	ContentRenderedMarkup
	// ContentOpaqueData: beliebiger strukturierter Wert ohne Render-Markup.
	ContentOpaqueData
)

// MessageContent ist die getaggte Inhaltsvariante einer Message vor bzw. nach
// dem Codec-Durchlauf.
type MessageContent struct {
	Kind ContentKind
	// Text trägt den Klartext (PlainText) bzw. das Markup (RenderedMarkup).
	Text string
	// Data trägt den strukturierten Wert (OpaqueData).
	Data any
}

// PlainText erstellt eine Klartext-Variante.
func PlainText(text string) MessageContent {
	return MessageContent{Kind: ContentPlainText, Text: text}
}

// RenderedMarkup erstellt eine Markup-Variante.
func RenderedMarkup(html string) MessageContent {
	return MessageContent{Kind: ContentRenderedMarkup, Text: html}
}

// OpaqueData erstellt eine Daten-Variante.
func OpaqueData(data any) MessageContent {
	return MessageContent{Kind: ContentOpaqueData, Data: data}
}

// MarshalJSON rendert die Variante für API-Antworten: Klartext als String,
// Markup als {html, rendered}, Daten als Rohwert.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentRenderedMarkup:
		return json.Marshal(struct {
			HTML     string `json:"html"`
			Rendered bool   `json:"rendered"`
		}{HTML: c.Text, Rendered: true})
	case ContentOpaqueData:
		return json.Marshal(c.Data)
	default:
		return json.Marshal(c.Text)
	}
}

// ContentFromJSON klassifiziert eine eingehende API-Payload: Strings werden
// Klartext, Objekte mit {html, rendered:true} werden Markup, alles andere
// ist ein strukturierter Wert. Total wie DecodeContent.
func ContentFromJSON(raw json.RawMessage) MessageContent {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return PlainText(text)
	}

	var markup struct {
		HTML     string `json:"html"`
		Rendered bool   `json:"rendered"`
	}
	if err := json.Unmarshal(raw, &markup); err == nil && markup.Rendered && markup.HTML != "" {
		return RenderedMarkup(markup.HTML)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return PlainText(string(raw))
	}
	return OpaqueData(data)
}

// storedWrapper ist das persistierte Format für Nicht-Klartext-Inhalte. Die
// Diskriminator-Felder entsprechen dem historischen Speicherformat, damit
// Bestandsdaten weiter dekodierbar bleiben.
type storedWrapper struct {
	IsRenderedHTML bool            `json:"__isRenderedHTML,omitempty"`
	HTML           string          `json:"html,omitempty"`
	IsObject       bool            `json:"__isObject,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// EncodeContent serialisiert eine Inhaltsvariante in ihr Speicherformat.
// Klartext ist der Fast-Path und wird unverändert durchgereicht.
func EncodeContent(c MessageContent) string {
	switch c.Kind {
	case ContentRenderedMarkup:
		b, err := json.Marshal(storedWrapper{IsRenderedHTML: true, HTML: c.Text})
		if err != nil {
			return c.Text
		}
		return string(b)
	case ContentOpaqueData:
		raw, err := json.Marshal(c.Data)
		if err != nil {
			// Nicht serialisierbare Werte degradieren zu Klartext.
			return ""
		}
		b, err := json.Marshal(storedWrapper{IsObject: true, Data: raw})
		if err != nil {
			return string(raw)
		}
		return string(b)
	default:
		return c.Text
	}
}

// DecodeContent rekonstruiert die Inhaltsvariante aus dem Speicherformat.
// Total: jeder String ergibt ein Ergebnis. Nicht parsebare oder nicht
// erkannte Inhalte degradieren zu Klartext.
func DecodeContent(stored string) MessageContent {
	trimmed := strings.TrimSpace(stored)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return PlainText(stored)
	}

	var w storedWrapper
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return PlainText(stored)
	}

	switch {
	case w.IsRenderedHTML:
		return RenderedMarkup(w.HTML)
	case w.IsObject:
		var data any
		if err := json.Unmarshal(w.Data, &data); err != nil {
			return PlainText(stored)
		}
		return OpaqueData(data)
	default:
		// Parsebar, aber ohne bekannten Diskriminator: wörtlich anzeigen.
		return PlainText(stored)
	}
}
