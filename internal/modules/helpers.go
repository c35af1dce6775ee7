package modules

import (
	"github.com/go-faster/jx"
)

// ToStringSlice converts []any (from MCP params) to []string.
// Non-string elements are silently skipped.
func ToStringSlice(v []any) []string {
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// StatusJSON renders the {"success": ..., "message": ...} record returned by
// tools whose upstream response body is not passed through.
func StatusJSON(success bool, message string) string {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(success) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	return e.String()
}

// Confirmation is a successful StatusJSON.
func Confirmation(message string) string {
	return StatusJSON(true, message)
}
