package translate

import "context"

// Translator converts text between languages. Implementations must be safe
// for concurrent use: every target pipeline of every session shares one.
type Translator interface {
	// Translate converts a single text segment from sourceLang to
	// targetLang. Language tags are BCP-47.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
