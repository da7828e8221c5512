package banexpr

import "strings"

// metaReplacer escapes ban-language regex metacharacters. '*' is left alone
// so that wildcard substitution can run afterwards.
var metaReplacer = strings.NewReplacer(
	`\`, `\\`,
	`[`, `\[`,
	`]`, `\]`,
	`{`, `\{`,
	`}`, `\}`,
	`(`, `\(`,
	`)`, `\)`,
	`+`, `\+`,
	`?`, `\?`,
	`.`, `\.`,
	`,`, `\,`,
	`^`, `\^`,
	`$`, `\$`,
	`|`, `\|`,
	`#`, `\#`,
	`"`, `\"`,
)

// literalReplacer only protects the boundaries of a quoted string literal
var literalReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
)

// Escape prepares untrusted input for use inside a ban regex.
// Metacharacters are escaped first, then every '*' becomes ".*".
func Escape(s string) string {
	return strings.ReplaceAll(metaReplacer.Replace(s), "*", ".*")
}

// EscapeLiteral prepares untrusted input for an exact == comparison
func EscapeLiteral(s string) string {
	return literalReplacer.Replace(s)
}
