package dynamotest

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokName
	tokValue
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokMinus
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var out []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			out = append(out, token{tokLParen, "("})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")"})
			i++
		case c == ',':
			out = append(out, token{tokComma, ","})
			i++
		case c == '+':
			out = append(out, token{tokPlus, "+"})
			i++
		case c == '-':
			out = append(out, token{tokMinus, "-"})
			i++
		case c == '=':
			out = append(out, token{tokOp, "="})
			i++
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && (s[i+1] == '=' || (c == '<' && s[i+1] == '>')) {
				op += string(s[i+1])
				i++
			}
			out = append(out, token{tokOp, op})
			i++
		case c == '#' || c == ':' || isIdentRune(c):
			j := i + 1
			for j < len(s) && isIdentRune(rune(s[j])) {
				j++
			}
			kind := tokIdent
			if c == '#' {
				kind = tokName
			} else if c == ':' {
				kind = tokValue
			}
			out = append(out, token{kind, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in expression %q", c, s)
		}
	}
	return append(out, token{kind: tokEOF}), nil
}

func isIdentRune(c rune) bool {
	return c == '_' || c == '.' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

// evaluator resolves names and values against one item.
type evaluator struct {
	toks   []token
	pos    int
	item   map[string]types.AttributeValue
	names  map[string]string
	values map[string]types.AttributeValue
}

func newEvaluator(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (*evaluator, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	return &evaluator{toks: toks, item: item, names: names, values: values}, nil
}

func (e *evaluator) peek() token { return e.toks[e.pos] }

func (e *evaluator) next() token {
	t := e.toks[e.pos]
	if t.kind != tokEOF {
		e.pos++
	}
	return t
}

func (e *evaluator) keyword(word string) bool {
	t := e.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, word)
}

func (e *evaluator) expect(kind tokenKind, what string) (token, error) {
	t := e.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (e *evaluator) attrName(t token) (string, error) {
	switch t.kind {
	case tokName:
		n, ok := e.names[t.text]
		if !ok {
			return "", fmt.Errorf("undefined attribute name %s", t.text)
		}
		return n, nil
	case tokIdent:
		return t.text, nil
	}
	return "", fmt.Errorf("expected attribute path, got %q", t.text)
}

func (e *evaluator) value(t token) (types.AttributeValue, error) {
	v, ok := e.values[t.text]
	if !ok {
		return nil, fmt.Errorf("undefined attribute value %s", t.text)
	}
	return v, nil
}

// evalCondition evaluates a full condition / key-condition / filter expression.
func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	e, err := newEvaluator(expr, item, names, values)
	if err != nil {
		return false, err
	}
	ok, err := e.orExpr()
	if err != nil {
		return false, fmt.Errorf("%w in %q", err, expr)
	}
	if e.peek().kind != tokEOF {
		return false, fmt.Errorf("trailing tokens in %q", expr)
	}
	return ok, nil
}

func (e *evaluator) orExpr() (bool, error) {
	l, err := e.andExpr()
	if err != nil {
		return false, err
	}
	for e.keyword("OR") {
		e.next()
		r, err := e.andExpr()
		if err != nil {
			return false, err
		}
		l = l || r
	}
	return l, nil
}

func (e *evaluator) andExpr() (bool, error) {
	l, err := e.notExpr()
	if err != nil {
		return false, err
	}
	for e.keyword("AND") {
		e.next()
		r, err := e.notExpr()
		if err != nil {
			return false, err
		}
		l = l && r
	}
	return l, nil
}

func (e *evaluator) notExpr() (bool, error) {
	if e.keyword("NOT") {
		e.next()
		v, err := e.notExpr()
		return !v, err
	}
	return e.primary()
}

func (e *evaluator) primary() (bool, error) {
	t := e.peek()
	if t.kind == tokLParen {
		e.next()
		v, err := e.orExpr()
		if err != nil {
			return false, err
		}
		if _, err := e.expect(tokRParen, ")"); err != nil {
			return false, err
		}
		return v, nil
	}
	if t.kind == tokIdent && e.toks[e.pos+1].kind == tokLParen {
		return e.function()
	}

	left, err := e.operand()
	if err != nil {
		return false, err
	}
	op, err := e.expect(tokOp, "comparator")
	if err != nil {
		return false, err
	}
	right, err := e.operand()
	if err != nil {
		return false, err
	}
	return compare(left, op.text, right)
}

func (e *evaluator) function() (bool, error) {
	fn := strings.ToLower(e.next().text)
	e.next() // (
	switch fn {
	case "attribute_exists", "attribute_not_exists":
		name, err := e.attrName(e.next())
		if err != nil {
			return false, err
		}
		if _, err := e.expect(tokRParen, ")"); err != nil {
			return false, err
		}
		_, exists := e.item[name]
		if fn == "attribute_exists" {
			return exists, nil
		}
		return !exists, nil
	case "begins_with":
		subject, err := e.operand()
		if err != nil {
			return false, err
		}
		if _, err := e.expect(tokComma, ","); err != nil {
			return false, err
		}
		prefix, err := e.operand()
		if err != nil {
			return false, err
		}
		if _, err := e.expect(tokRParen, ")"); err != nil {
			return false, err
		}
		s, ok1 := subject.(*types.AttributeValueMemberS)
		p, ok2 := prefix.(*types.AttributeValueMemberS)
		return ok1 && ok2 && strings.HasPrefix(s.Value, p.Value), nil
	}
	return false, fmt.Errorf("unsupported function %s", fn)
}

// operand resolves a path or a placeholder value; missing paths yield nil.
func (e *evaluator) operand() (types.AttributeValue, error) {
	t := e.next()
	if t.kind == tokValue {
		return e.value(t)
	}
	name, err := e.attrName(t)
	if err != nil {
		return nil, err
	}
	return e.item[name], nil
}

func compare(a types.AttributeValue, op string, b types.AttributeValue) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		x, err := parseNumber(av.Value)
		if err != nil {
			return false, err
		}
		y, err := parseNumber(bv.Value)
		if err != nil {
			return false, err
		}
		return ordered(x.Cmp(y), op), nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		return ordered(strings.Compare(av.Value, bv.Value), op), nil
	}
	switch op {
	case "=":
		return reflect.DeepEqual(a, b), nil
	case "<>":
		return !reflect.DeepEqual(a, b), nil
	}
	return false, fmt.Errorf("operator %s not supported for %T", op, a)
}

func ordered(c int, op string) bool {
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func parseNumber(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return r, nil
}

func formatNumber(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	return strings.TrimRight(strings.TrimRight(r.FloatString(12), "0"), ".")
}

// applyUpdate evaluates an update expression against item and returns the new item.
// Every operand is read from the pre-update image, as DynamoDB does.
func applyUpdate(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	e, err := newEvaluator(expr, item, names, values)
	if err != nil {
		return nil, err
	}
	out := cloneItem(item)
	for e.peek().kind != tokEOF {
		clause := e.next()
		if clause.kind != tokIdent {
			return nil, fmt.Errorf("expected SET, ADD or REMOVE, got %q", clause.text)
		}
		for {
			switch strings.ToUpper(clause.text) {
			case "SET":
				name, err := e.attrName(e.next())
				if err != nil {
					return nil, err
				}
				if _, err := e.expect(tokOp, "="); err != nil {
					return nil, err
				}
				v, err := e.setValue()
				if err != nil {
					return nil, err
				}
				out[name] = v
			case "ADD":
				name, err := e.attrName(e.next())
				if err != nil {
					return nil, err
				}
				v, err := e.value(e.next())
				if err != nil {
					return nil, err
				}
				cur := item[name]
				if cur == nil {
					cur = &types.AttributeValueMemberN{Value: "0"}
				}
				sum, err := arith(cur, "+", v)
				if err != nil {
					return nil, err
				}
				out[name] = sum
			case "REMOVE":
				name, err := e.attrName(e.next())
				if err != nil {
					return nil, err
				}
				delete(out, name)
			default:
				return nil, fmt.Errorf("unsupported update clause %s", clause.text)
			}
			if e.peek().kind != tokComma {
				break
			}
			e.next()
		}
	}
	return out, nil
}

func (e *evaluator) setValue() (types.AttributeValue, error) {
	left, err := e.setOperand()
	if err != nil {
		return nil, err
	}
	switch e.peek().kind {
	case tokPlus, tokMinus:
		op := e.next().text
		right, err := e.setOperand()
		if err != nil {
			return nil, err
		}
		return arith(left, op, right)
	}
	return left, nil
}

func (e *evaluator) setOperand() (types.AttributeValue, error) {
	t := e.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, "if_not_exists") {
		e.next()
		if _, err := e.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		name, err := e.attrName(e.next())
		if err != nil {
			return nil, err
		}
		if _, err := e.expect(tokComma, ","); err != nil {
			return nil, err
		}
		fallback, err := e.setOperand()
		if err != nil {
			return nil, err
		}
		if _, err := e.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		if v, ok := e.item[name]; ok {
			return v, nil
		}
		return fallback, nil
	}
	v, err := e.operand()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("update operand %q does not exist", t.text)
	}
	return v, nil
}

func arith(a types.AttributeValue, op string, b types.AttributeValue) (types.AttributeValue, error) {
	an, ok1 := a.(*types.AttributeValueMemberN)
	bn, ok2 := b.(*types.AttributeValueMemberN)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("arithmetic on non-number operands")
	}
	x, err := parseNumber(an.Value)
	if err != nil {
		return nil, err
	}
	y, err := parseNumber(bn.Value)
	if err != nil {
		return nil, err
	}
	if op == "+" {
		x.Add(x, y)
	} else {
		x.Sub(x, y)
	}
	return &types.AttributeValueMemberN{Value: formatNumber(x)}, nil
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
