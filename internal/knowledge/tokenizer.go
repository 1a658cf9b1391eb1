package knowledge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minTokenLength drops articles and prepositions such as "de", "da", "em".
const minTokenLength = 3

// stopwords are longer Portuguese function words, in normalized form.
var stopwords = wordSet(
	"para", "com", "sem", "sob", "que", "qual", "quais", "quando", "onde", "como",
	"uma", "umas", "uns", "dos", "das", "nos", "nas", "pelo", "pela", "pelos", "pelas",
	"por", "porque", "mais", "menos", "muito", "muita", "muitos", "muitas", "entre",
	"sobre", "apos", "ate", "desde", "seu", "sua", "seus", "suas", "meu", "minha",
	"este", "esta", "estes", "estas", "esse", "essa", "esses", "essas", "isso", "isto",
	"aquele", "aquela", "ele", "ela", "eles", "elas", "voce", "voces", "nao", "sim",
	"tem", "ter", "ser", "sao", "foi", "estar", "estao", "pode", "podem",
	"deve", "devo", "fazer", "faco", "quero", "gostaria", "tambem", "ainda", "algum",
	"alguma", "alguns", "algumas", "cada", "todo", "toda", "todos", "todas", "outro",
	"outra", "mesmo", "mesma", "pois", "entao", "aos", "num", "numa",
)

// genericTerms appear in most clinical questions and say nothing about the
// body region or condition. A text match made only of them does not count
// when the query also carries a specific term.
var genericTerms = wordSet(
	"dor", "dores", "doloroso", "dolorosa", "exercicio", "exercicios", "tratamento",
	"tratamentos", "paciente", "pacientes", "fisioterapia", "sessao", "sessoes",
	"melhor", "indicado", "indicados", "indicacao", "recomendado", "recomendacao",
	"tecnica", "tecnicas", "protocolo", "protocolos",
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsGeneric reports whether a normalized token is a generic clinical word.
func IsGeneric(token string) bool {
	_, ok := genericTerms[token]
	return ok
}

// Normalize lower-cases s and strips diacritics, so "Crônica" becomes "cronica".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Tokenize splits normalized text into unique words of at least three runes,
// without stopwords, in order of first appearance.
func Tokenize(s string) []string {
	words := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < minTokenLength {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}
