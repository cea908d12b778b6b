package formatter

import (
	"bytes"
	"encoding/json"
)

const standardIndentation = "    "

// ToStandardJSON returns the indented JSON representation of v.
func ToStandardJSON(v any) (string, error) {
	return ToJSON(v, "", standardIndentation)
}

// ToJSON returns the JSON representation of v. HTML characters in answer
// ids and ranker names are left unescaped.
func ToJSON(v any, prefix string, indentation string) (string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent(prefix, indentation)
	err := encoder.Encode(v)
	return buffer.String(), err
}
