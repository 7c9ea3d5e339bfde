package resultgraph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// WriteNTriples writes every triple of g to w, one per line, in insertion
// order.
func WriteNTriples(w io.Writer, g *Graph) error {
	bw := bufio.NewWriter(w)
	for _, t := range g.triples {
		if _, err := bw.WriteString(t.String() + "\n"); err != nil {
			return fmt.Errorf("failed to write triple: %w", err)
		}
	}
	return bw.Flush()
}

// ParseNTriples reads an N-Triples document into a new Graph. Blank lines and
// comment lines are skipped. Plain literals are typed xsd:string and
// language-tagged literals rdf:langString.
func ParseNTriples(r io.Reader) (*Graph, error) {
	g := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t, err := parseTriple(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		g.Add(t.Subject, t.Predicate, t.Object)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read n-triples: %w", err)
	}
	return g, nil
}

type lexer struct {
	s   string
	pos int
}

func parseTriple(line string) (Triple, error) {
	lx := &lexer{s: line}

	s, err := lx.term()
	if err != nil {
		return Triple{}, fmt.Errorf("subject: %w", err)
	}
	if s.Kind == KindLiteral {
		return Triple{}, fmt.Errorf("subject: literal not allowed")
	}
	p, err := lx.term()
	if err != nil {
		return Triple{}, fmt.Errorf("predicate: %w", err)
	}
	if p.Kind != KindIRI {
		return Triple{}, fmt.Errorf("predicate: must be an IRI")
	}
	o, err := lx.term()
	if err != nil {
		return Triple{}, fmt.Errorf("object: %w", err)
	}

	lx.skipSpace()
	if !lx.consume('.') {
		return Triple{}, fmt.Errorf("expected '.' at column %d", lx.pos+1)
	}
	lx.skipSpace()
	if lx.pos < len(lx.s) && lx.s[lx.pos] != '#' {
		return Triple{}, fmt.Errorf("unexpected trailing input at column %d", lx.pos+1)
	}
	return Triple{Subject: s, Predicate: p, Object: o}, nil
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.s) && (lx.s[lx.pos] == ' ' || lx.s[lx.pos] == '\t') {
		lx.pos++
	}
}

func (lx *lexer) consume(c byte) bool {
	if lx.pos < len(lx.s) && lx.s[lx.pos] == c {
		lx.pos++
		return true
	}
	return false
}

func (lx *lexer) term() (Term, error) {
	lx.skipSpace()
	if lx.pos >= len(lx.s) {
		return Term{}, fmt.Errorf("unexpected end of line")
	}
	switch lx.s[lx.pos] {
	case '<':
		v, err := lx.iri()
		if err != nil {
			return Term{}, err
		}
		return IRI(v), nil
	case '_':
		return lx.blank()
	case '"':
		return lx.literal()
	default:
		return Term{}, fmt.Errorf("unexpected %q at column %d", lx.s[lx.pos], lx.pos+1)
	}
}

func (lx *lexer) iri() (string, error) {
	lx.pos++ // '<'
	end := strings.IndexByte(lx.s[lx.pos:], '>')
	if end < 0 {
		return "", fmt.Errorf("unterminated IRI")
	}
	raw := lx.s[lx.pos : lx.pos+end]
	lx.pos += end + 1
	return unescape(raw)
}

func (lx *lexer) blank() (Term, error) {
	if !strings.HasPrefix(lx.s[lx.pos:], "_:") {
		return Term{}, fmt.Errorf("malformed blank node at column %d", lx.pos+1)
	}
	lx.pos += 2
	start := lx.pos
	for lx.pos < len(lx.s) && lx.s[lx.pos] != ' ' && lx.s[lx.pos] != '\t' {
		lx.pos++
	}
	label := strings.TrimSuffix(lx.s[start:lx.pos], ".")
	lx.pos = start + len(label)
	if label == "" {
		return Term{}, fmt.Errorf("empty blank node label")
	}
	return Blank(label), nil
}

func (lx *lexer) literal() (Term, error) {
	lx.pos++ // opening quote
	start := lx.pos
	for {
		if lx.pos >= len(lx.s) {
			return Term{}, fmt.Errorf("unterminated literal")
		}
		c := lx.s[lx.pos]
		if c == '\\' {
			lx.pos += 2
			continue
		}
		if c == '"' {
			break
		}
		lx.pos++
	}
	value, err := unescape(lx.s[start:lx.pos])
	if err != nil {
		return Term{}, err
	}
	lx.pos++ // closing quote

	switch {
	case strings.HasPrefix(lx.s[lx.pos:], "^^"):
		lx.pos += 2
		if lx.pos >= len(lx.s) || lx.s[lx.pos] != '<' {
			return Term{}, fmt.Errorf("expected datatype IRI at column %d", lx.pos+1)
		}
		dt, err := lx.iri()
		if err != nil {
			return Term{}, err
		}
		return Literal(value, dt), nil
	case lx.consume('@'):
		start := lx.pos
		for lx.pos < len(lx.s) && (isAlnum(lx.s[lx.pos]) || lx.s[lx.pos] == '-') {
			lx.pos++
		}
		if start == lx.pos {
			return Term{}, fmt.Errorf("empty language tag")
		}
		return Term{Kind: KindLiteral, Value: value, Datatype: LangString, Lang: lx.s[start:lx.pos]}, nil
	default:
		return Literal(value, XSDString), nil
	}
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// unescape resolves N-Triples string escapes, including \uXXXX and
// \UXXXXXXXX.
func unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("dangling escape")
		}
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case '"', '\'', '\\':
			b.WriteByte(s[i])
		case 'u', 'U':
			n := 4
			if s[i] == 'U' {
				n = 8
			}
			if i+1+n > len(s) {
				return "", fmt.Errorf("short unicode escape")
			}
			code, err := strconv.ParseUint(s[i+1:i+1+n], 16, 32)
			if err != nil {
				return "", fmt.Errorf("bad unicode escape: %w", err)
			}
			r := rune(code)
			if !utf8.ValidRune(r) {
				return "", fmt.Errorf("invalid code point %X", code)
			}
			b.WriteRune(r)
			i += n
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

func escapeLiteral(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return r.Replace(s)
}

func escapeIRI(s string) string {
	r := strings.NewReplacer(
		`>`, `\u003E`,
		`\`, `\u005C`,
	)
	return r.Replace(s)
}
