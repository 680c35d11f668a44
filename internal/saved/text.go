package saved

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/ember-ml/ember/internal/tensor"
)

// Text encoding of the bundle definition. The rendering follows the usual
// protobuf text conventions: `name: value` scalars, `name { ... }` nested
// messages, quoted strings, and bare identifiers for enum values, so a
// .pbtxt bundle stays diffable and hand-editable.

// MarshalText renders a bundle definition in text form. Like Marshal, map
// entries are written in sorted key order.
func MarshalText(def *BundleDef) ([]byte, error) {
	w := &textWriter{}
	w.scalar("schema_version", strconv.FormatInt(def.SchemaVersion, 10))
	for _, tag := range def.Tags {
		w.scalar("tags", strconv.Quote(tag))
	}

	if def.Graph != nil {
		w.open("graph")
		for _, n := range def.Graph.Nodes {
			if err := writeTextNode(w, n); err != nil {
				return nil, err
			}
		}
		w.close()
	}

	for _, name := range sortedKeys(def.Signatures) {
		sig := def.Signatures[name]
		w.open("signatures")
		w.scalar("key", strconv.Quote(name))
		w.open("value")
		if err := writeTextSignature(w, sig); err != nil {
			return nil, fmt.Errorf("signature %q: %w", name, err)
		}
		w.close()
		w.close()
	}

	return []byte(w.String()), nil
}

func writeTextNode(w *textWriter, n *NodeDef) error {
	w.open("node")
	w.scalar("name", strconv.Quote(n.Name))
	w.scalar("op", strconv.Quote(n.Op))
	for _, in := range n.Inputs {
		w.scalar("input", strconv.Quote(in))
	}
	if n.HasDType {
		name, err := dtypeToName(n.DType)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		w.scalar("dtype", name)
	}
	if n.Value != nil {
		if err := writeTextTensor(w, "value", n.Value); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	for _, f := range n.Features {
		if err := writeTextFeature(w, f); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	w.close()
	return nil
}

func writeTextFeature(w *textWriter, f *FeatureDef) error {
	name, err := dtypeToName(f.DType)
	if err != nil {
		return fmt.Errorf("feature %q: %w", f.Name, err)
	}
	w.open("feature")
	w.scalar("name", strconv.Quote(f.Name))
	w.scalar("dtype", name)
	for _, d := range f.Shape {
		w.scalar("shape", strconv.FormatInt(d, 10))
	}
	if f.Default != nil {
		if err := writeTextTensor(w, "default", f.Default); err != nil {
			return fmt.Errorf("feature %q: %w", f.Name, err)
		}
	}
	w.close()
	return nil
}

func writeTextTensor(w *textWriter, field string, t *TensorDef) error {
	name, err := dtypeToName(t.DType)
	if err != nil {
		return err
	}
	w.open(field)
	w.scalar("dtype", name)
	for _, d := range t.Dims {
		w.scalar("dim", strconv.FormatInt(d, 10))
	}
	for _, v := range t.FloatVals {
		w.scalar("float_val", strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	for _, v := range t.DoubleVals {
		w.scalar("double_val", strconv.FormatFloat(v, 'g', -1, 64))
	}
	for _, v := range t.IntVals {
		w.scalar("int_val", strconv.FormatInt(v, 10))
	}
	for _, v := range t.StringVals {
		w.scalar("string_val", strconv.Quote(string(v)))
	}
	w.close()
	return nil
}

func writeTextSignature(w *textWriter, s *SignatureDef) error {
	if err := writeTextInfoMap(w, "inputs", s.Inputs); err != nil {
		return err
	}
	if err := writeTextInfoMap(w, "outputs", s.Outputs); err != nil {
		return err
	}
	if s.MethodName != "" {
		w.scalar("method_name", strconv.Quote(s.MethodName))
	}
	return nil
}

func writeTextInfoMap(w *textWriter, field string, m map[string]*TensorInfo) error {
	for _, k := range sortedKeys(m) {
		info := m[k]
		name, err := dtypeToName(info.DType)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", k, err)
		}
		w.open(field)
		w.scalar("key", strconv.Quote(k))
		w.open("value")
		w.scalar("name", strconv.Quote(info.Name))
		w.scalar("dtype", name)
		for _, d := range info.Shape {
			w.scalar("dim", strconv.FormatInt(d, 10))
		}
		if info.UnknownRank {
			w.scalar("unknown_rank", "true")
		}
		w.close()
		w.close()
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// textWriter accumulates indented `name: value` and `name { ... }` lines.
type textWriter struct {
	b      strings.Builder
	indent int
}

func (w *textWriter) pad() {
	for i := 0; i < w.indent; i++ {
		w.b.WriteString("  ")
	}
}

func (w *textWriter) scalar(name, value string) {
	w.pad()
	w.b.WriteString(name)
	w.b.WriteString(": ")
	w.b.WriteString(value)
	w.b.WriteByte('\n')
}

func (w *textWriter) open(name string) {
	w.pad()
	w.b.WriteString(name)
	w.b.WriteString(" {\n")
	w.indent++
}

func (w *textWriter) close() {
	w.indent--
	w.pad()
	w.b.WriteString("}\n")
}

func (w *textWriter) String() string { return w.b.String() }

// UnmarshalText parses a text-form bundle definition.
func UnmarshalText(data []byte) (*BundleDef, error) {
	msg, err := parseTextMsg(newLexer(data), false)
	if err != nil {
		return nil, fmt.Errorf("decode text bundle: %w", err)
	}
	def, err := textToBundle(msg)
	if err != nil {
		return nil, fmt.Errorf("decode text bundle: %w", err)
	}
	return def, nil
}

// Generic parsed form: a message is a field list, a field is either a scalar
// token or a nested message.

type textMsg struct {
	fields []textField
}

type textField struct {
	name   string
	msg    *textMsg // nested message, nil for scalars
	value  string   // scalar value (unquoted form for strings)
	quoted bool     // scalar came from a quoted string literal
}

func (m *textMsg) named(name string) []textField {
	var out []textField
	for _, f := range m.fields {
		if f.name == name {
			out = append(out, f)
		}
	}
	return out
}

// one returns the single field with the given name, or an error when it is
// absent or repeated.
func (m *textMsg) one(name string) (textField, error) {
	fs := m.named(name)
	switch len(fs) {
	case 0:
		return textField{}, fmt.Errorf("missing field %q", name)
	case 1:
		return fs[0], nil
	default:
		return textField{}, fmt.Errorf("field %q repeated %d times", name, len(fs))
	}
}

// Lexer token kinds.
const (
	tokEOF = iota
	tokIdent
	tokString
	tokNumber
	tokColon
	tokLBrace
	tokRBrace
)

type token struct {
	kind int
	text string // ident text, number text, or unquoted string contents
}

type lexer struct {
	data []byte
	pos  int
	line int
}

func newLexer(data []byte) *lexer {
	return &lexer{data: data, line: 1}
}

func (l *lexer) errf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", l.line, fmt.Sprintf(format, args...))
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case c == '\n':
			l.line++
			l.pos++
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' {
				l.pos++
			}
		default:
			return l.lexToken()
		}
	}
	return token{kind: tokEOF}, nil
}

func (l *lexer) lexToken() (token, error) {
	c := l.data[l.pos]
	switch {
	case c == ':':
		l.pos++
		return token{kind: tokColon}, nil
	case c == '{':
		l.pos++
		return token{kind: tokLBrace}, nil
	case c == '}':
		l.pos++
		return token{kind: tokRBrace}, nil
	case c == '"':
		return l.lexString()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return l.lexNumber()
	case c == '_' || unicode.IsLetter(rune(c)):
		return l.lexIdent()
	default:
		return token{}, l.errf("unexpected character %q", c)
	}
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.data) {
		switch l.data[l.pos] {
		case '\\':
			l.pos += 2
		case '"':
			l.pos++
			s, err := strconv.Unquote(string(l.data[start:l.pos]))
			if err != nil {
				return token{}, l.errf("bad string literal: %v", err)
			}
			return token{kind: tokString, text: s}, nil
		case '\n':
			return token{}, l.errf("unterminated string literal")
		default:
			l.pos++
		}
	}
	return token{}, l.errf("unterminated string literal")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' ||
			(c >= '0' && c <= '9') {
			l.pos++
			continue
		}
		break
	}
	return token{kind: tokNumber, text: string(l.data[start:l.pos])}, nil
}

func (l *lexer) lexIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if c == '_' || c >= '0' && c <= '9' || unicode.IsLetter(rune(c)) {
			l.pos++
			continue
		}
		break
	}
	return token{kind: tokIdent, text: string(l.data[start:l.pos])}, nil
}

// parseTextMsg parses fields until EOF (top level) or a closing brace
// (nested). The colon before a nested message is optional, matching common
// text-format output.
func parseTextMsg(l *lexer, nested bool) (*textMsg, error) {
	msg := &textMsg{}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokEOF:
			if nested {
				return nil, l.errf("unexpected end of input, missing '}'")
			}
			return msg, nil
		case tokRBrace:
			if !nested {
				return nil, l.errf("unexpected '}'")
			}
			return msg, nil
		case tokIdent:
			f, err := parseTextField(l, tok.text)
			if err != nil {
				return nil, err
			}
			msg.fields = append(msg.fields, f)
		default:
			return nil, l.errf("expected field name")
		}
	}
}

func parseTextField(l *lexer, name string) (textField, error) {
	tok, err := l.next()
	if err != nil {
		return textField{}, err
	}
	if tok.kind == tokLBrace {
		sub, err := parseTextMsg(l, true)
		if err != nil {
			return textField{}, err
		}
		return textField{name: name, msg: sub}, nil
	}
	if tok.kind != tokColon {
		return textField{}, l.errf("field %q: expected ':' or '{'", name)
	}

	tok, err = l.next()
	if err != nil {
		return textField{}, err
	}
	switch tok.kind {
	case tokLBrace:
		sub, err := parseTextMsg(l, true)
		if err != nil {
			return textField{}, err
		}
		return textField{name: name, msg: sub}, nil
	case tokString:
		return textField{name: name, value: tok.text, quoted: true}, nil
	case tokNumber, tokIdent:
		return textField{name: name, value: tok.text}, nil
	default:
		return textField{}, l.errf("field %q: expected value", name)
	}
}

// Typed decoding of the generic tree.

func textToBundle(msg *textMsg) (*BundleDef, error) {
	def := &BundleDef{Signatures: make(map[string]*SignatureDef)}
	for _, f := range msg.fields {
		switch f.name {
		case "schema_version":
			v, err := fieldInt(f)
			if err != nil {
				return nil, err
			}
			def.SchemaVersion = v
		case "tags":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			def.Tags = append(def.Tags, s)
		case "graph":
			if f.msg == nil {
				return nil, fmt.Errorf("field graph: expected message")
			}
			g, err := textToGraph(f.msg)
			if err != nil {
				return nil, err
			}
			def.Graph = g
		case "signatures":
			key, val, err := fieldEntry(f)
			if err != nil {
				return nil, err
			}
			sig, err := textToSignature(val)
			if err != nil {
				return nil, fmt.Errorf("signature %q: %w", key, err)
			}
			def.Signatures[key] = sig
		default:
			return nil, fmt.Errorf("unknown bundle field %q", f.name)
		}
	}
	return def, nil
}

func textToGraph(msg *textMsg) (*GraphDef, error) {
	g := &GraphDef{}
	for _, f := range msg.fields {
		if f.name != "node" || f.msg == nil {
			return nil, fmt.Errorf("unknown graph field %q", f.name)
		}
		n, err := textToNode(f.msg)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
	}
	return g, nil
}

func textToNode(msg *textMsg) (*NodeDef, error) {
	node := &NodeDef{}
	for _, f := range msg.fields {
		switch f.name {
		case "name":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			node.Name = s
		case "op":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			node.Op = s
		case "input":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			node.Inputs = append(node.Inputs, s)
		case "dtype":
			dt, err := fieldDType(f)
			if err != nil {
				return nil, err
			}
			node.DType = dt
			node.HasDType = true
		case "value":
			td, err := textToTensor(f)
			if err != nil {
				return nil, err
			}
			node.Value = td
		case "feature":
			if f.msg == nil {
				return nil, fmt.Errorf("field feature: expected message")
			}
			fd, err := textToFeature(f.msg)
			if err != nil {
				return nil, err
			}
			node.Features = append(node.Features, fd)
		default:
			return nil, fmt.Errorf("node %q: unknown field %q", node.Name, f.name)
		}
	}
	return node, nil
}

func textToFeature(msg *textMsg) (*FeatureDef, error) {
	fd := &FeatureDef{}
	for _, f := range msg.fields {
		switch f.name {
		case "name":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			fd.Name = s
		case "dtype":
			dt, err := fieldDType(f)
			if err != nil {
				return nil, err
			}
			fd.DType = dt
		case "shape":
			v, err := fieldInt(f)
			if err != nil {
				return nil, err
			}
			fd.Shape = append(fd.Shape, v)
		case "default":
			td, err := textToTensor(f)
			if err != nil {
				return nil, err
			}
			fd.Default = td
		default:
			return nil, fmt.Errorf("feature %q: unknown field %q", fd.Name, f.name)
		}
	}
	return fd, nil
}

func textToTensor(f textField) (*TensorDef, error) {
	if f.msg == nil {
		return nil, fmt.Errorf("field %q: expected message", f.name)
	}
	t := &TensorDef{}
	for _, sf := range f.msg.fields {
		switch sf.name {
		case "dtype":
			dt, err := fieldDType(sf)
			if err != nil {
				return nil, err
			}
			t.DType = dt
		case "dim":
			v, err := fieldInt(sf)
			if err != nil {
				return nil, err
			}
			t.Dims = append(t.Dims, v)
		case "float_val":
			v, err := fieldFloat(sf)
			if err != nil {
				return nil, err
			}
			t.FloatVals = append(t.FloatVals, float32(v))
		case "double_val":
			v, err := fieldFloat(sf)
			if err != nil {
				return nil, err
			}
			t.DoubleVals = append(t.DoubleVals, v)
		case "int_val":
			v, err := fieldInt(sf)
			if err != nil {
				return nil, err
			}
			t.IntVals = append(t.IntVals, v)
		case "string_val":
			s, err := fieldString(sf)
			if err != nil {
				return nil, err
			}
			t.StringVals = append(t.StringVals, []byte(s))
		default:
			return nil, fmt.Errorf("tensor: unknown field %q", sf.name)
		}
	}
	return t, nil
}

func textToSignature(msg *textMsg) (*SignatureDef, error) {
	sig := &SignatureDef{
		Inputs:  make(map[string]*TensorInfo),
		Outputs: make(map[string]*TensorInfo),
	}
	for _, f := range msg.fields {
		switch f.name {
		case "inputs", "outputs":
			key, val, err := fieldEntry(f)
			if err != nil {
				return nil, err
			}
			info, err := textToInfo(val)
			if err != nil {
				return nil, fmt.Errorf("tensor %q: %w", key, err)
			}
			if f.name == "inputs" {
				sig.Inputs[key] = info
			} else {
				sig.Outputs[key] = info
			}
		case "method_name":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			sig.MethodName = s
		default:
			return nil, fmt.Errorf("unknown signature field %q", f.name)
		}
	}
	return sig, nil
}

func textToInfo(msg *textMsg) (*TensorInfo, error) {
	info := &TensorInfo{}
	for _, f := range msg.fields {
		switch f.name {
		case "name":
			s, err := fieldString(f)
			if err != nil {
				return nil, err
			}
			info.Name = s
		case "dtype":
			dt, err := fieldDType(f)
			if err != nil {
				return nil, err
			}
			info.DType = dt
		case "dim":
			v, err := fieldInt(f)
			if err != nil {
				return nil, err
			}
			info.Shape = append(info.Shape, v)
		case "unknown_rank":
			b, err := fieldBool(f)
			if err != nil {
				return nil, err
			}
			info.UnknownRank = b
		default:
			return nil, fmt.Errorf("unknown tensor info field %q", f.name)
		}
	}
	return info, nil
}

// Scalar field accessors.

func fieldEntry(f textField) (string, *textMsg, error) {
	if f.msg == nil {
		return "", nil, fmt.Errorf("field %q: expected map entry message", f.name)
	}
	kf, err := f.msg.one("key")
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", f.name, err)
	}
	key, err := fieldString(kf)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", f.name, err)
	}
	vf, err := f.msg.one("value")
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", f.name, err)
	}
	if vf.msg == nil {
		return "", nil, fmt.Errorf("field %q: entry value must be a message", f.name)
	}
	return key, vf.msg, nil
}

func fieldString(f textField) (string, error) {
	if f.msg != nil || !f.quoted {
		return "", fmt.Errorf("field %q: expected quoted string", f.name)
	}
	return f.value, nil
}

func fieldInt(f textField) (int64, error) {
	if f.msg != nil || f.quoted {
		return 0, fmt.Errorf("field %q: expected integer", f.name)
	}
	v, err := strconv.ParseInt(f.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %v", f.name, err)
	}
	return v, nil
}

func fieldFloat(f textField) (float64, error) {
	if f.msg != nil || f.quoted {
		return 0, fmt.Errorf("field %q: expected number", f.name)
	}
	v, err := strconv.ParseFloat(f.value, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %v", f.name, err)
	}
	return v, nil
}

func fieldBool(f textField) (bool, error) {
	if f.msg != nil || f.quoted {
		return false, fmt.Errorf("field %q: expected bool", f.name)
	}
	switch f.value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("field %q: bad bool %q", f.name, f.value)
	}
}

func fieldDType(f textField) (tensor.DataType, error) {
	if f.msg != nil || f.quoted {
		return 0, fmt.Errorf("field %q: expected dtype identifier", f.name)
	}
	return dtypeFromName(f.value)
}
