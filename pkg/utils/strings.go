package utils

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Capitalize title-cases an account name, used when composing pocket names
// from aggregator-reported accounts.
func Capitalize(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}
