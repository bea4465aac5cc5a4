package mysql

import "strings"

// stringOrDash keeps NOT NULL text columns populated: empty or
// whitespace-only input is stored as "-".
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
