// Package message renders per-recipient bodies from invitation templates.
package message

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	NamePlaceholder = "{name}"
	LinkPlaceholder = "{link}"
)

var ErrEmptyTemplate = errors.New("message template is empty")

// Vars are the values substituted into a template.
type Vars struct {
	Name string
	Link string
}

// Format replaces every {name} and {link} token in template. Values are inserted as-is.
func Format(template string, vars Vars) string {
	r := strings.NewReplacer(
		NamePlaceholder, vars.Name,
		LinkPlaceholder, vars.Link,
	)
	return r.Replace(template)
}

// Validate rejects templates that would produce an empty message.
func Validate(template string) error {
	if strings.TrimSpace(template) == "" {
		return ErrEmptyTemplate
	}
	return nil
}

// Segments estimates how many SMS parts body occupies. It is informational only;
// bodies are never truncated.
func Segments(body string) int {
	if body == "" {
		return 0
	}
	single, multi := 160, 153
	n := len(body)
	if !isGSM7(body) {
		single, multi = 70, 67
		n = utf8.RuneCountInString(body)
	}
	if n <= single {
		return 1
	}
	return (n + multi - 1) / multi
}

func isGSM7(s string) bool {
	for _, r := range s {
		if r > 0x7F {
			return false
		}
	}
	return true
}
