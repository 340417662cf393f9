package expr

import (
	"fmt"
	"strconv"
)

const (
	_ int = iota
	LOWEST
	SUM     // + -
	PRODUCT // * / %
	PREFIX  // -X
	POWER   // X ^ Y
)

var precedences = map[TokenType]int{
	PLUS:     SUM,
	MINUS:    SUM,
	ASTERISK: PRODUCT,
	SLASH:    PRODUCT,
	PERCENT:  PRODUCT,
	CARET:    POWER,
}

type (
	prefixParseFn func()
	infixParseFn  func()
)

// Parser compiles tokens straight into a postfix program. Operands are
// emitted as they are parsed and operators after their right-hand side, so
// the emitted sequence is already in evaluation order.
type Parser struct {
	l *Lexer

	curToken  Token
	peekToken Token

	prog   []instr
	errors []*ParseError

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

// NewParser creates a parser reading from l.
func NewParser(l *Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParseFns = map[TokenType]prefixParseFn{
		NUMBER: p.parseNumber,
		IDENT:  p.parseIdentifier,
		MINUS:  p.parsePrefixExpression,
		PLUS:   p.parsePrefixExpression,
		LPAREN: p.parseGroupedExpression,
	}
	p.infixParseFns = map[TokenType]infixParseFn{
		PLUS:     p.parseInfixExpression,
		MINUS:    p.parseInfixExpression,
		ASTERISK: p.parseInfixExpression,
		SLASH:    p.parseInfixExpression,
		PERCENT:  p.parseInfixExpression,
		CARET:    p.parseInfixExpression,
	}

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

// Errors returns the errors collected while parsing.
func (p *Parser) Errors() []*ParseError {
	return p.errors
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

// parseProgram parses a complete formula and returns its postfix program.
func (p *Parser) parseProgram() []instr {
	if p.curToken.Type == EOF {
		p.errorAt(p.curToken.Position, "empty expression")
		return nil
	}
	p.parseExpression(LOWEST)
	if len(p.errors) == 0 && p.peekToken.Type != EOF {
		p.errorAt(p.peekToken.Position, fmt.Sprintf("unexpected %s", describe(p.peekToken)))
	}
	return p.prog
}

func (p *Parser) parseExpression(precedence int) {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.errorAt(p.curToken.Position, fmt.Sprintf("unexpected %s", describe(p.curToken)))
		return
	}
	prefix()

	for len(p.errors) == 0 && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return
		}
		p.nextToken()
		infix()
	}
}

func (p *Parser) parseNumber() {
	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		p.errorAt(p.curToken.Position, fmt.Sprintf("could not parse %q as number", p.curToken.Literal))
		return
	}
	p.emit(instr{op: opPush, num: value})
}

func (p *Parser) parseIdentifier() {
	name := p.curToken.Literal
	if p.peekToken.Type == LPAREN {
		p.parseCallExpression(name)
		return
	}
	if value, ok := constants[name]; ok {
		p.emit(instr{op: opPush, num: value})
		return
	}
	if _, ok := builtins[name]; ok {
		p.errorAt(p.curToken.Position, fmt.Sprintf("function %s used without arguments", name))
		return
	}
	p.emit(instr{op: opLoad, name: name})
}

func (p *Parser) parsePrefixExpression() {
	operator := p.curToken.Type
	p.nextToken()
	p.parseExpression(PREFIX)
	if operator == MINUS {
		p.emit(instr{op: opNeg})
	}
}

func (p *Parser) parseInfixExpression() {
	operator := p.curToken.Type
	precedence := p.curPrecedence()
	if operator == CARET {
		// right associative: 2^3^2 == 2^(3^2)
		precedence--
	}
	p.nextToken()
	p.parseExpression(precedence)

	switch operator {
	case PLUS:
		p.emit(instr{op: opAdd})
	case MINUS:
		p.emit(instr{op: opSub})
	case ASTERISK:
		p.emit(instr{op: opMul})
	case SLASH:
		p.emit(instr{op: opDiv})
	case PERCENT:
		p.emit(instr{op: opMod})
	case CARET:
		p.emit(instr{op: opPow})
	}
}

func (p *Parser) parseGroupedExpression() {
	p.nextToken()
	p.parseExpression(LOWEST)
	p.expectPeek(RPAREN)
}

func (p *Parser) parseCallExpression(name string) {
	pos := p.curToken.Position
	fn, ok := builtins[name]
	if !ok {
		p.errorAt(pos, fmt.Sprintf("unknown function %s", name))
		return
	}
	p.nextToken() // (

	argc := 0
	if p.peekToken.Type == RPAREN {
		p.nextToken()
	} else {
		p.nextToken()
		p.parseExpression(LOWEST)
		argc++
		for len(p.errors) == 0 && p.peekToken.Type == COMMA {
			p.nextToken()
			p.nextToken()
			p.parseExpression(LOWEST)
			argc++
		}
		if !p.expectPeek(RPAREN) {
			return
		}
	}

	if fn.arity >= 0 && argc != fn.arity {
		p.errorAt(pos, fmt.Sprintf("%s takes %d argument(s), got %d", name, fn.arity, argc))
		return
	}
	if fn.arity < 0 && argc == 0 {
		p.errorAt(pos, fmt.Sprintf("%s takes at least one argument", name))
		return
	}
	p.emit(instr{op: opCall, fn: fn, argc: argc})
}

func (p *Parser) expectPeek(t TokenType) bool {
	if len(p.errors) > 0 {
		return false
	}
	if p.peekToken.Type == t {
		p.nextToken()
		return true
	}
	p.errorAt(p.peekToken.Position, fmt.Sprintf("expected %s, got %s", t, describe(p.peekToken)))
	return false
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) emit(in instr) {
	if len(p.errors) == 0 {
		p.prog = append(p.prog, in)
	}
}

func (p *Parser) errorAt(pos int, msg string) {
	p.errors = append(p.errors, &ParseError{Pos: pos, Msg: msg})
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF:
		return "end of expression"
	case IDENT, NUMBER:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	default:
		return fmt.Sprintf("%q", tok.Literal)
	}
}
