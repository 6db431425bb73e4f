package main

import (
	"fmt"
	"strings"
)

// Anonymization strips model identity from Stage 1 responses before they are
// shown to the raters, so no model can recognize (and favor) its own answer
// or a sibling's brand. Labels follow Stage 1 emission order and carry no
// quality signal.

// labelFor returns the anonymized label for a zero-based index: A through Z,
// then AA, AB and so on.
func labelFor(index int) string {
	n := index + 1
	var buf []byte
	for n > 0 {
		n--
		buf = append([]byte{byte('A' + n%26)}, buf...)
		n /= 26
	}
	return string(buf)
}

// Anonymize assigns labels to the successful responses in Stage 1 order.
// Failed responses are excluded from labeling and from the rating pool.
// Returns the label-to-model bijection (keys are full tokens such as
// "Response A") and the rendered responses block used to build the ranking
// prompt. The mapping is private to one deliberation; it is revealed only to
// the chairman and in the final result, never to the raters.
func Anonymize(responses []ModelResponse) (map[string]string, string) {
	labelToModel := make(map[string]string)
	var responsesText strings.Builder

	next := 0
	for _, response := range responses {
		if !response.Succeeded {
			continue
		}
		label := labelFor(next)
		next++

		labelKey := fmt.Sprintf("Response %s", label)
		labelToModel[labelKey] = response.Model

		responsesText.WriteString(fmt.Sprintf("Response %s:\n%s\n\n", label, response.Content))
	}

	return labelToModel, responsesText.String()
}
