package normalize

import (
	"regexp"
	"strings"

	"github.com/leandrotocalini/wagateway/internal/payload"
	"github.com/leandrotocalini/wagateway/internal/protocol"
)

var (
	telPattern       = regexp.MustCompile(`TEL;[^:]*:(.+)`)
	numberSeparators = regexp.MustCompile(`[\s-]+`)
)

// PhoneNumbers extracts every TEL number from a vCard, with whitespace and
// dashes removed.
func PhoneNumbers(vcard string) []string {
	var out []string
	for _, m := range telPattern.FindAllStringSubmatch(vcard, -1) {
		value, _, _ := strings.Cut(m[1], ":")
		value = numberSeparators.ReplaceAllString(value, "")
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}

// contactBody turns shared contacts into a ContactBody. A single contact
// contributes all of its numbers; an array contributes the first number of
// each entry so the list stays aligned with the entries.
func contactBody(c protocol.Contacts) payload.ContactBody {
	body := payload.ContactBody{Name: c.DisplayName}
	if len(c.Cards) == 0 {
		return body
	}
	if body.Name == "" {
		body.Name = c.Cards[0].DisplayName
	}

	if len(c.Cards) == 1 {
		for _, n := range PhoneNumbers(c.Cards[0].VCard) {
			body.Numbers = append(body.Numbers, &n)
		}
		return body
	}

	body.Name = c.Cards[0].DisplayName
	for _, card := range c.Cards {
		numbers := PhoneNumbers(card.VCard)
		if len(numbers) == 0 {
			body.Numbers = append(body.Numbers, nil)
			continue
		}
		body.Numbers = append(body.Numbers, &numbers[0])
	}
	return body
}
