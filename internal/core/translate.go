package core

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Translator renders user-facing messages.
type Translator interface {
	Sprintf(format string, args ...any) string
}

// DefaultTranslator renders messages in English.
var DefaultTranslator = NewTranslator("en")

type printerTranslator struct {
	p *message.Printer
}

// NewTranslator returns a translator for a BCP 47 language tag.
// Unknown tags fall back to English.
func NewTranslator(lang string) Translator {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return printerTranslator{p: message.NewPrinter(tag)}
}

func (t printerTranslator) Sprintf(format string, args ...any) string {
	return t.p.Sprintf(format, args...)
}
