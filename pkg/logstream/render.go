package logstream

import (
	"fmt"
	"strings"
)

// Render substitutes the arguments into a format string. Placeholders are
// "{}" and "{=type}", optionally followed by a display hint after a colon
// ("{=u8:x}", "{:b}"). "{{" and "}}" are literal braces. Missing arguments
// render as "<?>"; surplus arguments are appended.
func Render(format string, args []any) string {
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '{' && i+1 < len(format) && format[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(format) && format[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				b.WriteString(format[i:])
				i = len(format)
				continue
			}
			placeholder := format[i+1 : i+end]
			if next < len(args) {
				b.WriteString(formatArg(args[next], placeholder))
			} else {
				b.WriteString("<?>")
			}
			next++
			i += end
		default:
			b.WriteByte(c)
		}
	}
	for ; next < len(args); next++ {
		b.WriteByte(' ')
		b.WriteString(formatArg(args[next], ""))
	}
	return b.String()
}

func formatArg(arg any, placeholder string) string {
	hint := ""
	if colon := strings.IndexByte(placeholder, ':'); colon >= 0 {
		hint = placeholder[colon+1:]
	}
	switch hint {
	case "x":
		return fmt.Sprintf("%x", arg)
	case "#x":
		return fmt.Sprintf("%#x", arg)
	case "X":
		return fmt.Sprintf("%X", arg)
	case "b":
		return fmt.Sprintf("%b", arg)
	case "#b":
		return fmt.Sprintf("%#b", arg)
	case "?":
		return fmt.Sprintf("%#v", arg)
	default:
		return fmt.Sprint(arg)
	}
}
