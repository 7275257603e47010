package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidCondition indicates a condition expression that cannot be parsed.
var ErrInvalidCondition = errors.New("invalid condition expression")

// EvaluateCondition evaluates a boolean expression over a workflow configuration.
//
// Operands are literals ('quoted', 42, true) or ${key} references into
// configuration. Supported operators are == != < <= > >= combined with
// AND, OR, NOT (or &&, ||, !) and parentheses. An empty expression is true.
func EvaluateCondition(expression string, configuration map[string]string) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	tokens, err := tokenize(expression)
	if err != nil {
		return false, err
	}

	p := &conditionParser{tokens: tokens, configuration: configuration}

	result, err := p.parseOr()
	if err != nil {
		return false, err
	}

	if !p.done() {
		return false, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidCondition, p.peek().text, expression)
	}

	return result, nil
}

type tokenKind int

const (
	tokenOperand tokenKind = iota
	tokenVariable
	tokenCompare
	tokenAnd
	tokenOr
	tokenNot
	tokenOpen
	tokenClose
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expression string) ([]token, error) {
	var tokens []token

	runes := []rune(expression)

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenOpen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenClose, text: ")"})
			i++
		case r == '$' && i+1 < len(runes) && runes[i+1] == '{':
			end := indexRune(runes, i+2, '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated variable in %q", ErrInvalidCondition, expression)
			}

			tokens = append(tokens, token{kind: tokenVariable, text: strings.TrimSpace(string(runes[i+2 : end]))})
			i = end + 1
		case r == '\'' || r == '"':
			end := indexRune(runes, i+1, r)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated string in %q", ErrInvalidCondition, expression)
			}

			tokens = append(tokens, token{kind: tokenOperand, text: string(runes[i+1 : end])})
			i = end + 1
		case strings.ContainsRune("=!<>&|", r):
			op, width := readOperator(runes, i)
			if width == 0 {
				return nil, fmt.Errorf("%w: unknown operator at %d in %q", ErrInvalidCondition, i, expression)
			}

			tokens = append(tokens, op)
			i += width
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && !strings.ContainsRune("()=!<>&|'\"", runes[i]) {
				i++
			}

			tokens = append(tokens, keywordOrOperand(string(runes[start:i])))
		}
	}

	return tokens, nil
}

func readOperator(runes []rune, i int) (token, int) {
	two := ""
	if i+1 < len(runes) {
		two = string(runes[i : i+2])
	}

	switch two {
	case "==", "!=", "<=", ">=":
		return token{kind: tokenCompare, text: two}, 2
	case "&&":
		return token{kind: tokenAnd, text: two}, 2
	case "||":
		return token{kind: tokenOr, text: two}, 2
	}

	switch runes[i] {
	case '<', '>':
		return token{kind: tokenCompare, text: string(runes[i])}, 1
	case '!':
		return token{kind: tokenNot, text: "!"}, 1
	}

	return token{}, 0
}

func keywordOrOperand(word string) token {
	switch strings.ToUpper(word) {
	case "AND":
		return token{kind: tokenAnd, text: word}
	case "OR":
		return token{kind: tokenOr, text: word}
	case "NOT":
		return token{kind: tokenNot, text: word}
	}

	return token{kind: tokenOperand, text: word}
}

func indexRune(runes []rune, from int, target rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}

	return -1
}

type conditionParser struct {
	tokens        []token
	pos           int
	configuration map[string]string
}

func (p *conditionParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *conditionParser) peek() token {
	return p.tokens[p.pos]
}

func (p *conditionParser) accept(kind tokenKind) bool {
	if !p.done() && p.peek().kind == kind {
		p.pos++

		return true
	}

	return false
}

func (p *conditionParser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}

	for p.accept(tokenOr) {
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}

		left = left || right
	}

	return left, nil
}

func (p *conditionParser) parseAnd() (bool, error) {
	left, err := p.parseUnary()
	if err != nil {
		return false, err
	}

	for p.accept(tokenAnd) {
		right, err := p.parseUnary()
		if err != nil {
			return false, err
		}

		left = left && right
	}

	return left, nil
}

func (p *conditionParser) parseUnary() (bool, error) {
	if p.accept(tokenNot) {
		value, err := p.parseUnary()

		return !value, err
	}

	if p.accept(tokenOpen) {
		value, err := p.parseOr()
		if err != nil {
			return false, err
		}

		if !p.accept(tokenClose) {
			return false, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidCondition)
		}

		return value, nil
	}

	left, err := p.operand()
	if err != nil {
		return false, err
	}

	if p.done() || p.peek().kind != tokenCompare {
		return truthy(left), nil
	}

	op := p.peek().text
	p.pos++

	right, err := p.operand()
	if err != nil {
		return false, err
	}

	return compare(left, op, right), nil
}

func (p *conditionParser) operand() (string, error) {
	if p.done() {
		return "", fmt.Errorf("%w: unexpected end of expression", ErrInvalidCondition)
	}

	tok := p.peek()

	switch tok.kind {
	case tokenOperand:
		p.pos++

		return tok.text, nil
	case tokenVariable:
		p.pos++

		return p.configuration[tok.text], nil
	default:
		return "", fmt.Errorf("%w: expected operand, got %q", ErrInvalidCondition, tok.text)
	}
}

func truthy(value string) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
		return b
	}

	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return f != 0
	}

	return false
}

func compare(left, op, right string) bool {
	lf, lerr := strconv.ParseFloat(strings.TrimSpace(left), 64)
	rf, rerr := strconv.ParseFloat(strings.TrimSpace(right), 64)

	if lerr == nil && rerr == nil {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
	}

	lb, lerr := strconv.ParseBool(strings.TrimSpace(left))
	rb, rerr := strconv.ParseBool(strings.TrimSpace(right))

	if lerr == nil && rerr == nil && (op == "==" || op == "!=") {
		return (lb == rb) == (op == "==")
	}

	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case "<":
		return left < right
	case "<=":
		return left <= right
	case ">":
		return left > right
	case ">=":
		return left >= right
	}

	return false
}
