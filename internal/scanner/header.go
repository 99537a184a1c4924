package scanner

import (
	"bufio"
	"io"
	"strings"
	"unicode"
)

// maxHeaderBytes bounds how far into a file the package clause is looked for.
const maxHeaderBytes = 64 << 10

// ReadPackage returns the package declared by a Java source, or "" for the
// default package. It skips comments and annotations and stops at the first
// token that cannot precede a package clause.
func ReadPackage(r io.Reader) (string, error) {
	br := bufio.NewReader(io.LimitReader(r, maxHeaderBytes))
	h := headerLexer{r: br}
	for {
		tok, err := h.next()
		if err != nil {
			if err == io.EOF {
				return "", nil
			}
			return "", err
		}
		switch {
		case tok == "@":
			if err := h.skipAnnotation(); err != nil {
				if err == io.EOF {
					return "", nil
				}
				return "", err
			}
		case tok == "package":
			name, err := h.qualifiedName()
			if err != nil && err != io.EOF {
				return "", err
			}
			return name, nil
		default:
			return "", nil
		}
	}
}

type headerLexer struct {
	r      *bufio.Reader
	pushed string
}

func (h *headerLexer) push(tok string) { h.pushed = tok }

// next returns the next token: an identifier, or a single punctuation rune.
func (h *headerLexer) next() (string, error) {
	if h.pushed != "" {
		tok := h.pushed
		h.pushed = ""
		return tok, nil
	}
	if err := h.skipSpaceAndComments(); err != nil {
		return "", err
	}
	c, _, err := h.r.ReadRune()
	if err != nil {
		return "", err
	}
	if !isIdentStart(c) {
		return string(c), nil
	}
	var sb strings.Builder
	sb.WriteRune(c)
	for {
		c, _, err := h.r.ReadRune()
		if err != nil {
			if err == io.EOF {
				return sb.String(), nil
			}
			return "", err
		}
		if !isIdentPart(c) {
			_ = h.r.UnreadRune()
			return sb.String(), nil
		}
		sb.WriteRune(c)
	}
}

func (h *headerLexer) skipSpaceAndComments() error {
	for {
		c, _, err := h.r.ReadRune()
		if err != nil {
			return err
		}
		if unicode.IsSpace(c) || c == '\uFEFF' {
			continue
		}
		if c != '/' {
			return h.r.UnreadRune()
		}
		n, _, err := h.r.ReadRune()
		if err != nil {
			return err
		}
		switch n {
		case '/':
			if _, err := h.r.ReadString('\n'); err != nil {
				return err
			}
		case '*':
			if err := h.skipBlockComment(); err != nil {
				return err
			}
		default:
			_ = h.r.UnreadRune()
			return nil
		}
	}
}

func (h *headerLexer) skipBlockComment() error {
	prev := rune(0)
	for {
		c, _, err := h.r.ReadRune()
		if err != nil {
			return err
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}

// skipAnnotation consumes a qualified annotation name and an optional
// parenthesized argument list after the leading '@'.
func (h *headerLexer) skipAnnotation() error {
	if _, err := h.qualifiedName(); err != nil {
		return err
	}
	tok, err := h.next()
	if err != nil {
		return err
	}
	if tok != "(" {
		h.push(tok)
		return nil
	}
	depth := 1
	inString := false
	for depth > 0 {
		c, _, err := h.r.ReadRune()
		if err != nil {
			return err
		}
		switch {
		case inString && c == '\\':
			if _, _, err := h.r.ReadRune(); err != nil {
				return err
			}
		case c == '"':
			inString = !inString
		case !inString && c == '(':
			depth++
		case !inString && c == ')':
			depth--
		}
	}
	return nil
}

func (h *headerLexer) qualifiedName() (string, error) {
	var parts []string
	for {
		tok, err := h.next()
		if err != nil {
			return strings.Join(parts, "."), err
		}
		if !isIdentStart([]rune(tok)[0]) {
			if tok != ";" {
				h.push(tok)
			}
			return strings.Join(parts, "."), nil
		}
		parts = append(parts, tok)
		dot, err := h.next()
		if err != nil {
			return strings.Join(parts, "."), err
		}
		if dot != "." {
			if dot != ";" {
				h.push(dot)
			}
			return strings.Join(parts, "."), nil
		}
	}
}

func isIdentStart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || unicode.IsDigit(c)
}
