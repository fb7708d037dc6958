package classify

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformed is returned when a response cannot be recovered into JSON.
var ErrMalformed = eris.New("classify: malformed response")

// ParseLenient decodes a model response into v, recovering from the ways
// responses are commonly damaged. Rules, in order:
//
//  1. Surrounding whitespace and markdown code fences are removed.
//  2. Anything before the first '{' is dropped.
//  3. A complete top-level object is decoded as-is; trailing text is ignored.
//  4. A truncated object is closed: an open string gets its quote, then every
//     open array and object is closed.
//  5. If that is not valid, the incomplete trailing member is dropped by
//     cutting at the last top-level comma and closing the object.
//
// Anything still undecodable returns ErrMalformed.
func ParseLenient(text string, v any) error {
	s := stripFences(text)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return eris.Wrap(ErrMalformed, "no object")
	}
	s = s[start:]

	sc := scanObject(s)
	if sc.end > 0 {
		if err := json.Unmarshal([]byte(s[:sc.end]), v); err != nil {
			return eris.Wrapf(ErrMalformed, "decode: %v", err)
		}
		return nil
	}

	closed := s
	if sc.inString {
		closed += `"`
	}
	for i := len(sc.stack) - 1; i >= 0; i-- {
		closed += closerFor(sc.stack[i])
	}
	if json.Unmarshal([]byte(closed), v) == nil {
		return nil
	}

	if sc.lastComma > 0 {
		if json.Unmarshal([]byte(s[:sc.lastComma]+"}"), v) == nil {
			return nil
		}
	}
	return eris.Wrap(ErrMalformed, "truncated object")
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type scan struct {
	// end is one past the closing brace of a complete object, or 0.
	end       int
	inString  bool
	stack     []byte
	lastComma int
}

// scanObject walks s, which starts with '{', tracking string and nesting state.
func scanObject(s string) scan {
	var sc scan
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				sc.inString = false
			}
			continue
		}
		switch c {
		case '"':
			sc.inString = true
		case '{', '[':
			sc.stack = append(sc.stack, c)
		case '}', ']':
			if len(sc.stack) > 0 {
				sc.stack = sc.stack[:len(sc.stack)-1]
			}
			if len(sc.stack) == 0 {
				sc.end = i + 1
				return sc
			}
		case ',':
			if len(sc.stack) == 1 {
				sc.lastComma = i
			}
		}
	}
	return sc
}

func closerFor(open byte) string {
	if open == '[' {
		return "]"
	}
	return "}"
}
