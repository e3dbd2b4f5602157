package operation

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Expectation checks one value of a JSON response body.
type Expectation struct {
	// Path is a JSONPath ($.items[0].id) or gjson path (items.0.id).
	Path string `json:"path" yaml:"path"`

	// Value is compared with the string form of the selected value. When
	// empty the path only has to exist.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// ExpectationError reports a response body that did not match.
type ExpectationError struct {
	Path string
	Want string
	Got  string
}

func (e *ExpectationError) Error() string {
	if e.Got == "" && e.Want == "" {
		return fmt.Sprintf("expected %s to exist", e.Path)
	}
	return fmt.Sprintf("expected %s = %q, got %q", e.Path, e.Want, e.Got)
}

// Check returns an *ExpectationError if body does not satisfy e.
func (e Expectation) Check(body []byte) error {
	res := gjson.GetBytes(body, gjsonPath(e.Path))
	if !res.Exists() {
		return &ExpectationError{Path: e.Path, Want: e.Value}
	}
	if e.Value == "" {
		return nil
	}

	got := res.String()
	if res.Type == gjson.Null {
		got = "null"
	}
	if got != e.Value {
		return &ExpectationError{Path: e.Path, Want: e.Value, Got: got}
	}
	return nil
}

// gjsonPath converts the JSONPath subset used in run files to gjson syntax:
// $.users[0].name becomes users.0.name.
func gjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	r := strings.NewReplacer(
		"['", ".", "']", "",
		`["`, ".", `"]`, "",
		"[", ".", "]", "",
	)
	path = r.Replace(path)
	return strings.TrimPrefix(path, ".")
}
