package discovery

import (
	"strings"
	"unicode"

	"github.com/seanmckay/hearth/internal/config"
)

// AssignPerson finds which family member an email is about. Aliases are
// matched as whole tokens only: "Sam" must not fire on "Samples Night".
// The first configured member with a token hit wins.
func AssignPerson(text string, family []config.FamilyMember) string {
	if len(family) == 0 {
		return ""
	}

	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[tok] = true
	}

	for _, member := range family {
		if tokens[strings.ToLower(member.Name)] {
			return member.Name
		}
		for _, alias := range member.Aliases {
			if tokens[strings.ToLower(alias)] {
				return member.Name
			}
		}
	}
	return ""
}
