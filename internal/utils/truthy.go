package utils

// Truthy evaluates a loosely-typed preference flag permissively: boolean
// true, numeric 1, and the string "1" all count as enabled. Anything else,
// including a missing value, is disabled.
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	case string:
		return t == "1"
	default:
		return false
	}
}
