package bot

import "strings"

var (
	replacer = strings.NewReplacer(
		"\\",
		"\\\\",
		"-",
		"\\-",
		"_",
		"\\_",
		"*",
		"\\*",
		"[",
		"\\[",
		"]",
		"\\]",
		"(",
		"\\(",
		")",
		"\\)",
		"~",
		"\\~",
		"`",
		"\\`",
		">",
		"\\>",
		"#",
		"\\#",
		"+",
		"\\+",
		"=",
		"\\=",
		"|",
		"\\|",
		"{",
		"\\{",
		"}",
		"\\}",
		".",
		"\\.",
		"!",
		"\\!",
	)
)

// EscapeForMarkdown escapes text for the MarkdownV2 parse mode.
func EscapeForMarkdown(src string) string {
	return replacer.Replace(src)
}
