package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// forbiddenStmtRe matches mutating statement keywords on word
// boundaries so column names like created_at or last_update pass.
var forbiddenStmtRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|grant|revoke|create)\b`)

// CheckReadOnly rejects any query-tool statement that could mutate the
// database: it must start with SELECT or WITH, must not contain a
// mutating keyword anywhere, and must not stack statements with
// semicolons.
func CheckReadOnly(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("query is empty")
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return fmt.Errorf("query must start with SELECT or WITH")
	}
	if m := forbiddenStmtRe.FindString(trimmed); m != "" {
		return fmt.Errorf("query contains forbidden keyword %q", strings.ToUpper(m))
	}
	if strings.Contains(strings.TrimRight(trimmed, "; \t\n"), ";") {
		return fmt.Errorf("query must be a single statement")
	}
	return nil
}
