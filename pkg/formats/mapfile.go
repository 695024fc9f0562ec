// Package formats provides readers and writers for the compiler's file
// formats: the text level source and the binary compiled world.
package formats

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"
)

// Map format errors.
var (
	ErrUnbalancedBraces = errors.New("unbalanced braces")
	ErrEmptyMap         = errors.New("map has no entities")
)

// SyntaxError describes a malformed construct at a source line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// MapFile is a parsed level source.
type MapFile struct {
	Entities []MapEntity
}

// MapProperty is one key/value pair of an entity.
type MapProperty struct {
	Key   string
	Value string
}

// MapEntity is one entity block in source order. When Err is set the
// block was malformed, skipped up to its closing brace, and holds no
// primitives.
type MapEntity struct {
	Line       int
	Properties []MapProperty
	Brushes    []MapBrush
	Patches    []MapPatch
	Err        error
}

// Value returns the last value stored under key, or "".
func (e *MapEntity) Value(key string) string {
	v := ""
	for _, p := range e.Properties {
		if p.Key == key {
			v = p.Value
		}
	}
	return v
}

// ClassName returns the "classname" property.
func (e *MapEntity) ClassName() string {
	return e.Value("classname")
}

// MapBrush is a brush as written: a list of sides.
type MapBrush struct {
	Line  int
	Sides []MapSide
}

// MapSide is one brush face. Either Points or, when Explicit is set,
// Normal and Dist define the plane.
type MapSide struct {
	Line     int
	Points   [3]mgl64.Vec3
	Explicit bool
	Normal   mgl64.Vec3
	Dist     float64
	Material string

	// texture projection
	Valve    bool
	UAxis    [4]float64
	VAxis    [4]float64
	Offset   [2]float64
	Rotation float64
	Scale    [2]float64

	// optional Quake 2 style surface info
	HasFlags bool
	Contents int
	Flags    int
	Value    int
}

// PatchVertex is a patch control point.
type PatchVertex struct {
	Pos mgl64.Vec3
	UV  [2]float64
}

// MapPatch is a patchDef2 control grid. Points is indexed [column][row].
type MapPatch struct {
	Line     int
	Material string
	Width    int
	Height   int
	Points   [][]PatchVertex
}

// LoadMap reads and parses a level source file.
func LoadMap(path string) (*MapFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMap(data)
}

// ParseMap parses level source text. A malformed entity is recorded with
// its error and parsing resumes after it; only unbalanced braces abort.
func ParseMap(data []byte) (*MapFile, error) {
	p := &mapParser{lex: newLexer(data)}
	m := &MapFile{}
	for {
		tok, ok := p.lex.peek()
		if !ok {
			break
		}
		if tok.text != "{" || tok.quoted {
			return nil, &SyntaxError{Line: tok.line, Msg: fmt.Sprintf("expected '{', found %q", tok.text)}
		}
		ent, err := p.entity()
		if errors.Is(err, ErrUnbalancedBraces) {
			return nil, err
		}
		if err != nil {
			if skipErr := p.skipBlock(ent.Line); skipErr != nil {
				return nil, skipErr
			}
			ent = MapEntity{Line: ent.Line, Properties: ent.Properties, Err: err}
		}
		m.Entities = append(m.Entities, ent)
	}
	if len(m.Entities) == 0 {
		return nil, ErrEmptyMap
	}
	return m, nil
}

type mapParser struct {
	lex   *lexer
	depth int
}

func (p *mapParser) next() (token, error) {
	tok, ok := p.lex.next()
	if !ok {
		return tok, fmt.Errorf("line %d: %w", p.lex.line, ErrUnbalancedBraces)
	}
	if !tok.quoted {
		switch tok.text {
		case "{":
			p.depth++
		case "}":
			p.depth--
		}
	}
	return tok, nil
}

func (p *mapParser) expect(text string) (token, error) {
	tok, err := p.next()
	if err != nil {
		return tok, err
	}
	if tok.quoted || tok.text != text {
		return tok, &SyntaxError{Line: tok.line, Msg: fmt.Sprintf("expected %q, found %q", text, tok.text)}
	}
	return tok, nil
}

// skipBlock consumes tokens until the entity opened at depth 1 closes.
func (p *mapParser) skipBlock(line int) error {
	for p.depth > 0 {
		if _, err := p.next(); err != nil {
			return fmt.Errorf("entity at line %d: %w", line, ErrUnbalancedBraces)
		}
	}
	return nil
}

func (p *mapParser) entity() (MapEntity, error) {
	open, err := p.expect("{")
	ent := MapEntity{Line: open.line}
	if err != nil {
		return ent, err
	}
	for {
		tok, err := p.next()
		if err != nil {
			return ent, err
		}
		switch {
		case tok.quoted:
			val, err := p.next()
			if err != nil {
				return ent, err
			}
			if !val.quoted {
				return ent, &SyntaxError{Line: val.line, Msg: fmt.Sprintf("key %q has no quoted value", tok.text)}
			}
			ent.Properties = append(ent.Properties, MapProperty{Key: tok.text, Value: val.text})
		case tok.text == "}":
			return ent, nil
		case tok.text == "{":
			if err := p.primitive(&ent, tok.line); err != nil {
				return ent, err
			}
		default:
			return ent, &SyntaxError{Line: tok.line, Msg: fmt.Sprintf("unexpected %q in entity", tok.text)}
		}
	}
}

func (p *mapParser) primitive(ent *MapEntity, line int) error {
	tok, ok := p.lex.peek()
	if !ok {
		return fmt.Errorf("line %d: %w", line, ErrUnbalancedBraces)
	}
	if !tok.quoted && tok.text == "patchDef2" {
		p.lex.next()
		patch, err := p.patch(line)
		if err != nil {
			return err
		}
		ent.Patches = append(ent.Patches, patch)
		_, err = p.expect("}")
		return err
	}

	brush := MapBrush{Line: line}
	for {
		tok, ok := p.lex.peek()
		if !ok {
			return fmt.Errorf("line %d: %w", line, ErrUnbalancedBraces)
		}
		if !tok.quoted && tok.text == "}" {
			p.next()
			ent.Brushes = append(ent.Brushes, brush)
			return nil
		}
		side, err := p.side()
		if err != nil {
			return err
		}
		brush.Sides = append(brush.Sides, side)
	}
}

func (p *mapParser) side() (MapSide, error) {
	tok, err := p.next()
	if err != nil {
		return MapSide{}, err
	}
	side := MapSide{Line: tok.line}
	switch tok.text {
	case "(":
		for i := 0; i < 3; i++ {
			if i > 0 {
				if _, err := p.expect("("); err != nil {
					return side, err
				}
			}
			v, err := p.numbers(3)
			if err != nil {
				return side, err
			}
			side.Points[i] = mgl64.Vec3{v[0], v[1], v[2]}
			if _, err := p.expect(")"); err != nil {
				return side, err
			}
		}
	case "[":
		v, err := p.numbers(4)
		if err != nil {
			return side, err
		}
		if _, err := p.expect("]"); err != nil {
			return side, err
		}
		side.Explicit = true
		side.Normal = mgl64.Vec3{v[0], v[1], v[2]}
		side.Dist = v[3]
	default:
		return side, &SyntaxError{Line: tok.line, Msg: fmt.Sprintf("expected brush side, found %q", tok.text)}
	}

	mat, err := p.next()
	if err != nil {
		return side, err
	}
	if isPunct(mat) {
		return side, &SyntaxError{Line: mat.line, Msg: "missing material name"}
	}
	side.Material = mat.text

	if next, ok := p.lex.peek(); ok && !next.quoted && next.text == "[" {
		side.Valve = true
		for _, axis := range []*[4]float64{&side.UAxis, &side.VAxis} {
			if _, err := p.expect("["); err != nil {
				return side, err
			}
			v, err := p.numbers(4)
			if err != nil {
				return side, err
			}
			copy(axis[:], v)
			if _, err := p.expect("]"); err != nil {
				return side, err
			}
		}
	}

	var rest []float64
	for {
		next, ok := p.lex.peek()
		if !ok || isPunct(next) {
			break
		}
		p.lex.next()
		f, err := strconv.ParseFloat(next.text, 64)
		if err != nil {
			return side, &SyntaxError{Line: next.line, Msg: fmt.Sprintf("bad number %q", next.text)}
		}
		rest = append(rest, f)
	}

	want := 5
	if side.Valve {
		want = 3
	}
	switch len(rest) {
	case want, want + 3:
	default:
		return side, &SyntaxError{Line: side.Line, Msg: fmt.Sprintf("side has %d texture values", len(rest))}
	}
	if side.Valve {
		side.Offset = [2]float64{side.UAxis[3], side.VAxis[3]}
		side.Rotation = rest[0]
		side.Scale = [2]float64{rest[1], rest[2]}
	} else {
		side.Offset = [2]float64{rest[0], rest[1]}
		side.Rotation = rest[2]
		side.Scale = [2]float64{rest[3], rest[4]}
	}
	if len(rest) == want+3 {
		side.HasFlags = true
		side.Contents = int(rest[want])
		side.Flags = int(rest[want+1])
		side.Value = int(rest[want+2])
	}
	return side, nil
}

func (p *mapParser) patch(line int) (MapPatch, error) {
	patch := MapPatch{Line: line}
	if _, err := p.expect("{"); err != nil {
		return patch, err
	}
	mat, err := p.next()
	if err != nil {
		return patch, err
	}
	if isPunct(mat) {
		return patch, &SyntaxError{Line: mat.line, Msg: "missing patch material"}
	}
	patch.Material = mat.text

	if _, err := p.expect("("); err != nil {
		return patch, err
	}
	dims, err := p.numbers(5)
	if err != nil {
		return patch, err
	}
	if _, err := p.expect(")"); err != nil {
		return patch, err
	}
	patch.Width, patch.Height = int(dims[0]), int(dims[1])
	if patch.Width < 3 || patch.Height < 3 || patch.Width%2 == 0 || patch.Height%2 == 0 {
		return patch, &SyntaxError{Line: line, Msg: fmt.Sprintf("bad patch size %dx%d", patch.Width, patch.Height)}
	}

	if _, err := p.expect("("); err != nil {
		return patch, err
	}
	patch.Points = make([][]PatchVertex, patch.Width)
	for i := range patch.Points {
		if _, err := p.expect("("); err != nil {
			return patch, err
		}
		col := make([]PatchVertex, patch.Height)
		for j := range col {
			if _, err := p.expect("("); err != nil {
				return patch, err
			}
			v, err := p.numbers(5)
			if err != nil {
				return patch, err
			}
			col[j] = PatchVertex{Pos: mgl64.Vec3{v[0], v[1], v[2]}, UV: [2]float64{v[3], v[4]}}
			if _, err := p.expect(")"); err != nil {
				return patch, err
			}
		}
		patch.Points[i] = col
		if _, err := p.expect(")"); err != nil {
			return patch, err
		}
	}
	if _, err := p.expect(")"); err != nil {
		return patch, err
	}
	_, err = p.expect("}")
	return patch, err
}

func (p *mapParser) numbers(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		f, perr := strconv.ParseFloat(tok.text, 64)
		if tok.quoted || perr != nil {
			return nil, &SyntaxError{Line: tok.line, Msg: fmt.Sprintf("expected number, found %q", tok.text)}
		}
		out[i] = f
	}
	return out, nil
}

func isPunct(t token) bool {
	if t.quoted {
		return false
	}
	switch t.text {
	case "{", "}", "(", ")", "[", "]":
		return true
	}
	return false
}

type token struct {
	text   string
	line   int
	quoted bool
}

// lexer splits map text into tokens, skipping // comments.
type lexer struct {
	data   []byte
	pos    int
	line   int
	peeked *token
}

func newLexer(data []byte) *lexer {
	return &lexer{data: data, line: 1}
}

func (l *lexer) peek() (token, bool) {
	if l.peeked == nil {
		tok, ok := l.scan()
		if !ok {
			return token{line: l.line}, false
		}
		l.peeked = &tok
	}
	return *l.peeked, true
}

func (l *lexer) next() (token, bool) {
	if l.peeked != nil {
		tok := *l.peeked
		l.peeked = nil
		return tok, true
	}
	return l.scan()
}

func (l *lexer) scan() (token, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '/' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '/':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' {
				l.pos++
			}
		case c == '"':
			start := l.pos + 1
			line := l.line
			l.pos++
			for l.pos < len(l.data) && l.data[l.pos] != '"' {
				if l.data[l.pos] == '\n' {
					l.line++
				}
				l.pos++
			}
			text := string(l.data[start:l.pos])
			if l.pos < len(l.data) {
				l.pos++
			}
			return token{text: text, line: line, quoted: true}, true
		case c == '{' || c == '}' || c == '(' || c == ')' || c == '[' || c == ']':
			l.pos++
			return token{text: string(c), line: l.line}, true
		default:
			start := l.pos
			for l.pos < len(l.data) {
				c := l.data[l.pos]
				if c <= ' ' || c == '"' || c == '{' || c == '}' || c == '(' || c == ')' || c == '[' || c == ']' {
					break
				}
				l.pos++
			}
			return token{text: string(l.data[start:l.pos]), line: l.line}, true
		}
	}
	return token{}, false
}
