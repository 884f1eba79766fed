package intake

import (
	"regexp"
	"strings"
)

// fencedBlock matches a ``` or ```json fenced block. Only the first block in
// the body is used.
var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*\\n(.*?)\\n```")

// ExtractJSON pulls the JSON text out of a free-text body. A fenced code
// block wins; otherwise a body that starts with '{' is taken whole. It
// reports false when neither form is present.
func ExtractJSON(body string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "{") {
		return body, true
	}
	return "", false
}
