// Package lang formats lists and counts for humans.
package lang

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gertd/go-pluralize"
)

const (
	DefaultPattern   = "%s"
	DefaultSeparator = ","
	DefaultOperator  = "and"
)

var (
	pluralizer = pluralize.NewClient()
)

type Enumerator struct {
	Pattern   string
	Separator string
	Operator  string
}

func (e Enumerator) Do(elements ...string) string {
	pattern, separator, operator := DefaultPattern, DefaultSeparator, DefaultOperator
	if e.Pattern != "" {
		pattern = e.Pattern
	}
	if e.Separator != "" {
		separator = e.Separator
	}
	if e.Operator != "" {
		operator = e.Operator
	}
	res := &bytes.Buffer{}
	for idx, element := range elements {
		fmt.Fprintf(res, pattern, element)
		if idx+2 < len(elements) {
			fmt.Fprintf(res, "%s ", separator)
		} else if idx+2 == len(elements) {
			if len(elements) > 2 {
				res.WriteString(separator)
			}
			fmt.Fprintf(res, " %s ", operator)
		}
	}
	return res.String()
}

func Plural(word string) string {
	return pluralizer.Plural(word)
}

func Singular(word string) string {
	return pluralizer.Singular(word)
}

// Count returns e.g. "no actors", "1 actor" or "12 actors".
func Count(n int, word string) string {
	if n == 0 {
		return "no " + Plural(word)
	}
	return pluralizer.Pluralize(word, n, true)
}

func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Title returns a hook name like "damageTaken" as "Damage taken".
func Title(camel string) string {
	words := []string{}
	start := 0
	for i, r := range camel {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, strings.ToLower(camel[start:i]))
			start = i
		}
	}
	words = append(words, strings.ToLower(camel[start:]))
	return Capitalize(strings.Join(words, " "))
}
