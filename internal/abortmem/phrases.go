package abortmem

import "strings"

// stopWords are the bare imperative "stop" tokens recognized at the start
// of a compositional "stop <X>" phrase (e.g. "stop generating", "para ya").
// exactPhrases are complete utterances, recognized only when they make up
// the whole normalized message.
var stopWords = []string{
	"stop", "halt", "cancel", "abort", // English
	"stopp", "anhalten", "abbrechen", // German
	"para", "alto", "detente", "cancela", // Spanish
	"arrête", "arrete", "stop", "annule", // French
	"停止", "停下", "取消", // Chinese
	"止めて", "ストップ", "キャンセル", // Japanese
	"रुको", "रोको", "बंद करो", // Hindi
	"توقف", "قف", "إلغاء", // Arabic
	"стоп", "остановись", "отмена", // Russian
	"pare", "para", "cancela", "cancele", // Portuguese
}

var exactPhrases = buildExactPhraseSet()

func buildExactPhraseSet() map[string]bool {
	set := map[string]bool{}
	for _, w := range stopWords {
		set[w] = true
	}
	// A handful of full-sentence utterances that aren't simply "<stopword>"
	// or "<stopword> <x>" but should still fast-abort.
	extra := []string{
		"stop it", "stop now", "stop please", "please stop",
		"that's enough", "that is enough", "nevermind", "never mind",
		"ya basta", "basta", "ça suffit", "ca suffit",
		"もういい", "やめて",
		"बस करो", "रुक जाओ",
		"يكفي", "كفى",
		"хватит", "достаточно",
		"chega", "já chega", "ja chega",
	}
	for _, p := range extra {
		set[p] = true
	}
	return set
}

// IsStopPhrase reports whether text is a fast-abort trigger: either an
// exact recognized phrase, or a compositional "<stopword> <anything>"
// utterance (e.g. "stop generating", "cancel that", "arrête ça").
func IsStopPhrase(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	if exactPhrases[norm] {
		return true
	}
	for _, w := range stopWords {
		if norm == w {
			return true
		}
		if strings.HasPrefix(norm, w+" ") {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = strings.Trim(s, ".!?、。！？")
	return s
}
