package notion

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// Title builds a title property.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: richText(s),
	}
}

// Text builds a rich text property.
func Text(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(s),
	}
}

// Select builds a select property. Notion rejects commas in option names.
func Select(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{
		Type:   notionapi.PropertyTypeSelect,
		Select: notionapi.Option{Name: strings.ReplaceAll(name, ",", " ")},
	}
}

// Date builds a date property; a nil t clears the date.
func Date(t *time.Time) notionapi.DateProperty {
	p := notionapi.DateProperty{Type: notionapi.PropertyTypeDate}
	if t != nil {
		d := notionapi.Date(*t)
		p.Date = &notionapi.DateObject{Start: &d}
	}
	return p
}

func richText(s string) []notionapi.RichText {
	if s == "" {
		return []notionapi.RichText{}
	}
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

// PropertyText returns the plain text of a title or rich text property read
// back from the API.
func PropertyText(p notionapi.Property) string {
	var parts []notionapi.RichText
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		parts = v.Title
	case *notionapi.RichTextProperty:
		parts = v.RichText
	default:
		return ""
	}

	var b strings.Builder
	for _, rt := range parts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}
