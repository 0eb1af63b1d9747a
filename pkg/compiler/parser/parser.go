// Package parser builds a typed AST from the lexeme stream by recursive
// descent, resolving local variables and forward subroutine references as
// it goes.
package parser

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/bsqlang/bsq/pkg/compiler/ast"
	"github.com/bsqlang/bsq/pkg/compiler/lexer"
)

// ErrSyntax is wrapped by every error the parser reports.
var ErrSyntax = errors.New("syntax error")

// builtin describes a registered built-in subroutine. Parameter names carry
// the sigils the type checker matches arguments against.
type builtin struct {
	name       string
	parameters []string
}

var builtins = []builtin{
	{"SQR", []string{"a"}},
	{"MID$", []string{"a$", "b", "c"}},
	{"STR$", []string{"a"}},
}

// factorStart is the set of kinds an expression may begin with.
var factorStart = []lexer.Kind{
	lexer.KindTrue, lexer.KindFalse, lexer.KindNumber, lexer.KindText,
	lexer.KindIdentifier, lexer.KindSub, lexer.KindNot, lexer.KindLeftPar,
}

// Parser consumes a scanner's lexemes and produces a Program.
type Parser struct {
	scanner *lexer.Scanner
	next    lexer.Lexeme

	program *ast.Program
	current *ast.Subroutine

	// unresolved maps a callee name to the Apply nodes waiting for its
	// definition.
	unresolved map[string][]*ast.Apply
}

// New creates a parser over the given scanner. The file name only labels the
// resulting Program.
func New(scanner *lexer.Scanner, fileName string) *Parser {
	return &Parser{
		scanner:    scanner,
		program:    &ast.Program{FileName: fileName},
		unresolved: make(map[string][]*ast.Apply),
	}
}

// Parse consumes the whole lexeme stream and returns the populated program,
// or the first syntax error. Any forward references still unresolved at end
// of file fail the parse, one line per name.
func (p *Parser) Parse() (*ast.Program, error) {
	p.advance()

	if err := p.parseProgram(); err != nil {
		return nil, err
	}

	if len(p.unresolved) > 0 {
		names := make([]string, 0, len(p.unresolved))
		for name := range p.unresolved {
			names = append(names, name)
		}
		sort.Strings(names)
		msg := ""
		for _, name := range names {
			msg += fmt.Sprintf("%s: unresolved subroutine reference\n", name)
		}
		return nil, fmt.Errorf("%w: %s", ErrSyntax, msg)
	}

	return p.program, nil
}

func (p *Parser) advance() {
	p.next = p.scanner.Next()
}

// expect consumes the next lexeme, failing unless it is of the given kind.
func (p *Parser) expect(kind lexer.Kind) (string, error) {
	if !p.next.Is(kind) {
		return "", fmt.Errorf("%w: expected %v, got %s", ErrSyntax, kind, p.next.Value)
	}
	value := p.next.Value
	p.advance()
	return value, nil
}

// Program = [NewLines] { Subroutine NewLines } EOF
func (p *Parser) parseProgram() error {
	if p.next.Is(lexer.KindNewLine) {
		if err := p.parseNewLines(); err != nil {
			return err
		}
	}

	for !p.next.Is(lexer.KindEOF) {
		if err := p.parseSubroutine(); err != nil {
			return err
		}
		if p.next.Is(lexer.KindEOF) {
			break
		}
		if err := p.parseNewLines(); err != nil {
			return err
		}
	}

	_, err := p.expect(lexer.KindEOF)
	return err
}

// Subroutine = 'SUB' IDENT ['(' [IdentList] ')'] Statements 'END' 'SUB'
func (p *Parser) parseSubroutine() error {
	if _, err := p.expect(lexer.KindSubroutine); err != nil {
		return err
	}
	name, err := p.expect(lexer.KindIdentifier)
	if err != nil {
		return err
	}

	if p.program.Subroutine(name) != nil {
		return fmt.Errorf("%w: %s: name already defined", ErrSyntax, name)
	}

	var parameters []string
	if p.next.Is(lexer.KindLeftPar) {
		p.advance()
		if p.next.Is(lexer.KindIdentifier) {
			identifier, err := p.expect(lexer.KindIdentifier)
			if err != nil {
				return err
			}
			parameters = append(parameters, identifier)
			for p.next.Is(lexer.KindComma) {
				p.advance()
				identifier, err = p.expect(lexer.KindIdentifier)
				if err != nil {
					return err
				}
				parameters = append(parameters, identifier)
			}
		}
		if _, err := p.expect(lexer.KindRightPar); err != nil {
			return err
		}
	}

	p.current = &ast.Subroutine{Name: name, Parameters: parameters}
	p.program.Subroutines = append(p.program.Subroutines, p.current)

	for _, parameter := range parameters {
		p.current.Locals = append(p.current.Locals, ast.NewVariable(parameter))
	}

	body, err := p.parseStatements()
	if err != nil {
		return err
	}
	p.current.Body = body

	if _, err := p.expect(lexer.KindEnd); err != nil {
		return err
	}
	if _, err := p.expect(lexer.KindSubroutine); err != nil {
		return err
	}

	// Patch every pending forward reference to this subroutine.
	for pending, applies := range p.unresolved {
		if !ast.SameName(pending, name) {
			continue
		}
		for _, apply := range applies {
			apply.Callee = p.current
		}
		delete(p.unresolved, pending)
	}

	return nil
}

// Statements = NewLines { Statement NewLines }
func (p *Parser) parseStatements() (ast.Statement, error) {
	if err := p.parseNewLines(); err != nil {
		return nil, err
	}

	sequence := &ast.Sequence{}
	for {
		var (
			statement ast.Statement
			err       error
		)
		switch p.next.Kind {
		case lexer.KindLet:
			statement, err = p.parseLet()
		case lexer.KindDim:
			statement, err = p.parseDim()
		case lexer.KindInput:
			statement, err = p.parseInput()
		case lexer.KindPrint:
			statement, err = p.parsePrint()
		case lexer.KindIf:
			statement, err = p.parseIf()
		case lexer.KindWhile:
			statement, err = p.parseWhile()
		case lexer.KindFor:
			statement, err = p.parseFor()
		case lexer.KindCall:
			statement, err = p.parseCall()
		default:
			return sequence, nil
		}
		if err != nil {
			return nil, err
		}
		sequence.Items = append(sequence.Items, statement)
		if err := p.parseNewLines(); err != nil {
			return nil, err
		}
	}
}

// Let = 'LET' IDENT ['(' Expression ')'] '=' Expression
func (p *Parser) parseLet() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindLet); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.KindIdentifier)
	if err != nil {
		return nil, err
	}

	var index ast.Expression
	if p.next.Is(lexer.KindLeftPar) {
		p.advance()
		index, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.KindRightPar); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(lexer.KindEq); err != nil {
		return nil, err
	}
	expression, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	variable, err := p.localVariable(name, false)
	if err != nil {
		return nil, err
	}

	if index == nil && ast.SameName(name, p.current.Name) {
		p.current.IsReturningValue = true
	}

	return &ast.Let{Variable: variable, Index: index, Expression: expression}, nil
}

// Dim = 'DIM' IDENT '(' NUMBER ')'
func (p *Parser) parseDim() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindDim); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.KindIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindLeftPar); err != nil {
		return nil, err
	}
	literal, err := p.expect(lexer.KindNumber)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindRightPar); err != nil {
		return nil, err
	}

	size, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expected %v, got %s", ErrSyntax, lexer.KindNumber, literal)
	}

	variable, err := p.localVariable(name, false)
	if err != nil {
		return nil, err
	}

	// Typing the variable here lets the factor rule tell array elements
	// apart from calls; the checker validates the size.
	variable.SetType(ast.Array)
	variable.ArraySize = int(size)

	return &ast.Dim{Variable: variable, Size: ast.NewNumber(size)}, nil
}

// Input = 'INPUT' [TEXT ','] IDENT ['(' Expression ')']
func (p *Parser) parseInput() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindInput); err != nil {
		return nil, err
	}

	prompt := "?"
	if p.next.Is(lexer.KindText) {
		prompt = p.next.Value
		p.advance()
		if _, err := p.expect(lexer.KindComma); err != nil {
			return nil, err
		}
	}

	name, err := p.expect(lexer.KindIdentifier)
	if err != nil {
		return nil, err
	}

	var index ast.Expression
	if p.next.Is(lexer.KindLeftPar) {
		p.advance()
		index, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.KindRightPar); err != nil {
			return nil, err
		}
	}

	variable, err := p.localVariable(name, false)
	if err != nil {
		return nil, err
	}

	return &ast.Input{Prompt: ast.NewText(prompt), Variable: variable, Index: index}, nil
}

// Print = 'PRINT' Expression
func (p *Parser) parsePrint() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindPrint); err != nil {
		return nil, err
	}
	expression, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.Print{Expression: expression}, nil
}

// If = 'IF' Expression 'THEN' Statements
//
//	{'ELSEIF' Expression 'THEN' Statements}
//	['ELSE' Statements] 'END' 'IF'
//
// An ELSEIF chain rewrites to nested If nodes through the Otherwise slot.
func (p *Parser) parseIf() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindIf); err != nil {
		return nil, err
	}
	condition, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindThen); err != nil {
		return nil, err
	}
	then, err := p.parseStatements()
	if err != nil {
		return nil, err
	}

	ifNode := &ast.If{Condition: condition, Then: then}

	tail := ifNode
	for p.next.Is(lexer.KindElseIf) {
		p.advance()
		chainedCondition, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.KindThen); err != nil {
			return nil, err
		}
		chainedThen, err := p.parseStatements()
		if err != nil {
			return nil, err
		}
		chained := &ast.If{Condition: chainedCondition, Then: chainedThen}
		tail.Otherwise = chained
		tail = chained
	}

	if p.next.Is(lexer.KindElse) {
		p.advance()
		otherwise, err := p.parseStatements()
		if err != nil {
			return nil, err
		}
		tail.Otherwise = otherwise
	}

	if _, err := p.expect(lexer.KindEnd); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindIf); err != nil {
		return nil, err
	}

	return ifNode, nil
}

// While = 'WHILE' Expression Statements 'END' 'WHILE'
func (p *Parser) parseWhile() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindWhile); err != nil {
		return nil, err
	}
	condition, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindEnd); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindWhile); err != nil {
		return nil, err
	}
	return &ast.While{Condition: condition, Body: body}, nil
}

// For = 'FOR' IDENT '=' Expression 'TO' Expression ['STEP' ['-'] NUMBER]
//
//	Statements 'END' 'FOR'
func (p *Parser) parseFor() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindFor); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.KindIdentifier)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindEq); err != nil {
		return nil, err
	}
	begin, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindTo); err != nil {
		return nil, err
	}
	end, err := p.parseExpression()
	if err != nil {
		return nil, err
	}

	step := 1.0
	if p.next.Is(lexer.KindStep) {
		p.advance()
		negative := false
		if p.next.Is(lexer.KindSub) {
			p.advance()
			negative = true
		}
		literal, err := p.expect(lexer.KindNumber)
		if err != nil {
			return nil, err
		}
		step, err = strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expected %v, got %s", ErrSyntax, lexer.KindNumber, literal)
		}
		if negative {
			step = -step
		}
	}

	variable, err := p.localVariable(name, false)
	if err != nil {
		return nil, err
	}
	body, err := p.parseStatements()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindEnd); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.KindFor); err != nil {
		return nil, err
	}

	return &ast.For{
		Variable: variable,
		Begin:    begin,
		End:      end,
		Step:     ast.NewNumber(step),
		Body:     body,
	}, nil
}

// Call = 'CALL' IDENT [Expression {',' Expression}]
func (p *Parser) parseCall() (ast.Statement, error) {
	if _, err := p.expect(lexer.KindCall); err != nil {
		return nil, err
	}
	name, err := p.expect(lexer.KindIdentifier)
	if err != nil {
		return nil, err
	}

	var arguments []ast.Expression
	if p.next.IsAny(factorStart...) {
		expression, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		arguments = append(arguments, expression)
		for p.next.Is(lexer.KindComma) {
			p.advance()
			expression, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
			arguments = append(arguments, expression)
		}
	}

	apply := ast.NewApply(p.subroutine(name), arguments)
	if apply.Callee == nil {
		p.unresolved[name] = append(p.unresolved[name], apply)
	}

	return &ast.Call{Apply: apply}, nil
}

// Expression = Addition [RelOp Addition]; comparisons do not chain.
func (p *Parser) parseExpression() (ast.Expression, error) {
	result, err := p.parseAddition()
	if err != nil {
		return nil, err
	}
	if p.next.IsAny(lexer.KindEq, lexer.KindNe, lexer.KindGt, lexer.KindGe, lexer.KindLt, lexer.KindLe) {
		op := toOperation(p.next.Kind)
		p.advance()
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		result = ast.NewBinary(op, result, right)
	}
	return result, nil
}

// Addition = Multiplication {('+' | '-' | '&' | 'OR') Multiplication}
func (p *Parser) parseAddition() (ast.Expression, error) {
	result, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}
	for p.next.IsAny(lexer.KindAdd, lexer.KindSub, lexer.KindAmp, lexer.KindOr) {
		op := toOperation(p.next.Kind)
		p.advance()
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		result = ast.NewBinary(op, result, right)
	}
	return result, nil
}

// Multiplication = Power {('*' | '/' | '\' | 'AND') Power}
func (p *Parser) parseMultiplication() (ast.Expression, error) {
	result, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.next.IsAny(lexer.KindMul, lexer.KindDiv, lexer.KindMod, lexer.KindAnd) {
		op := toOperation(p.next.Kind)
		p.advance()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		result = ast.NewBinary(op, result, right)
	}
	return result, nil
}

// Power = Factor ['^' Factor]
func (p *Parser) parsePower() (ast.Expression, error) {
	result, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	if p.next.Is(lexer.KindPow) {
		p.advance()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		result = ast.NewBinary(ast.Pow, result, right)
	}
	return result, nil
}

// Factor = TRUE | FALSE | NUMBER | TEXT | ('-' | 'NOT') Factor
//
//	| IDENT ['(' [ExpressionList] ')'] | '(' Expression ')'
//
// IDENT followed by a parenthesis is an array element when the identifier
// names an array local, and a call otherwise.
func (p *Parser) parseFactor() (ast.Expression, error) {
	switch p.next.Kind {
	case lexer.KindTrue:
		p.advance()
		return ast.NewBoolean(true), nil

	case lexer.KindFalse:
		p.advance()
		return ast.NewBoolean(false), nil

	case lexer.KindNumber:
		literal := p.next.Value
		p.advance()
		value, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: expected %v, got %s", ErrSyntax, lexer.KindNumber, literal)
		}
		return ast.NewNumber(value), nil

	case lexer.KindText:
		value := p.next.Value
		p.advance()
		return ast.NewText(value), nil

	case lexer.KindSub, lexer.KindNot:
		op := ast.Sub
		if p.next.Is(lexer.KindNot) {
			op = ast.Not
		}
		p.advance()
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return ast.NewUnary(op, operand), nil

	case lexer.KindIdentifier:
		name := p.next.Value
		p.advance()
		if !p.next.Is(lexer.KindLeftPar) {
			return p.localVariable(name, true)
		}

		if local := p.current.Local(name); local != nil && local.Type() == ast.Array {
			p.advance()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.KindRightPar); err != nil {
				return nil, err
			}
			return ast.NewItem(local, index), nil
		}

		p.advance()
		var arguments []ast.Expression
		if p.next.IsAny(factorStart...) {
			expression, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			arguments = append(arguments, expression)
			for p.next.Is(lexer.KindComma) {
				p.advance()
				expression, err = p.parseExpression()
				if err != nil {
					return nil, err
				}
				arguments = append(arguments, expression)
			}
		}
		if _, err := p.expect(lexer.KindRightPar); err != nil {
			return nil, err
		}

		apply := ast.NewApply(p.subroutine(name), arguments)
		if apply.Callee == nil {
			p.unresolved[name] = append(p.unresolved[name], apply)
		}
		return apply, nil

	case lexer.KindLeftPar:
		p.advance()
		expression, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.KindRightPar); err != nil {
			return nil, err
		}
		return expression, nil
	}

	return nil, fmt.Errorf("%w: expected NUMBER, TEXT, '-', NOT, IDENT or '(', got %s", ErrSyntax, p.next.Value)
}

// NewLines = NL {NL}
func (p *Parser) parseNewLines() error {
	if _, err := p.expect(lexer.KindNewLine); err != nil {
		return err
	}
	for p.next.Is(lexer.KindNewLine) {
		p.advance()
	}
	return nil
}

// localVariable returns the current subroutine's local of the given name,
// creating it on first use in l-value position. Reading an identifier that
// has no local yet is an error, as is reading the subroutine's own name.
func (p *Parser) localVariable(name string, rValue bool) (*ast.Variable, error) {
	if rValue && ast.SameName(p.current.Name, name) {
		return nil, fmt.Errorf("%w: subroutine name used as rvalue", ErrSyntax)
	}

	if local := p.current.Local(name); local != nil {
		return local, nil
	}

	if rValue {
		return nil, fmt.Errorf("%w: %s: variable not defined", ErrSyntax, name)
	}

	variable := ast.NewVariable(name)
	p.current.Locals = append(p.current.Locals, variable)
	return variable, nil
}

// subroutine resolves a callee name against the program, registering a
// built-in on first reference. A nil result means the name is still a
// forward reference.
func (p *Parser) subroutine(name string) *ast.Subroutine {
	if s := p.program.Subroutine(name); s != nil {
		return s
	}

	for _, b := range builtins {
		if b.name != name {
			continue
		}
		s := &ast.Subroutine{
			Name:             b.name,
			Parameters:       b.parameters,
			IsBuiltin:        true,
			IsReturningValue: true,
		}
		p.program.Subroutines = append(p.program.Subroutines, s)
		return s
	}

	return nil
}

func toOperation(kind lexer.Kind) ast.Operation {
	switch kind {
	case lexer.KindAdd:
		return ast.Add
	case lexer.KindSub:
		return ast.Sub
	case lexer.KindAmp:
		return ast.Conc
	case lexer.KindMul:
		return ast.Mul
	case lexer.KindDiv:
		return ast.Div
	case lexer.KindMod:
		return ast.Mod
	case lexer.KindPow:
		return ast.Pow
	case lexer.KindEq:
		return ast.Eq
	case lexer.KindNe:
		return ast.Ne
	case lexer.KindGt:
		return ast.Gt
	case lexer.KindGe:
		return ast.Ge
	case lexer.KindLt:
		return ast.Lt
	case lexer.KindLe:
		return ast.Le
	case lexer.KindAnd:
		return ast.And
	case lexer.KindOr:
		return ast.Or
	}
	return ast.None
}
