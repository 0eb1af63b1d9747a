// Package ast defines the abstract syntax tree of a BSQ program: the data
// type system, operations, expression and statement variants, subroutines
// and the program root.
package ast

import "strings"

// DataType is the type of a BSQ value.
type DataType byte

const (
	Void    DataType = 'V'
	Boolean DataType = 'B'
	Numeric DataType = 'N'
	Textual DataType = 'T'
	Array   DataType = 'A'
)

func (t DataType) String() string {
	switch t {
	case Void:
		return "VOID"
	case Boolean:
		return "BOOLEAN"
	case Numeric:
		return "NUMBER"
	case Textual:
		return "TEXT"
	case Array:
		return "ARRAY"
	}
	return "UNDEFINED"
}

// IdentifierType returns the declared type of an identifier, determined by
// its trailing sigil: '$' is textual, '?' is boolean, anything else numeric.
func IdentifierType(name string) DataType {
	switch {
	case strings.HasSuffix(name, "?"):
		return Boolean
	case strings.HasSuffix(name, "$"):
		return Textual
	}
	return Numeric
}

func stripSigil(name string) string {
	if strings.HasSuffix(name, "$") || strings.HasSuffix(name, "?") {
		return name[:len(name)-1]
	}
	return name
}

// SameName reports whether two identifiers denote the same name after
// stripping one trailing sigil from each, so X and X$ collide.
func SameName(first, second string) bool {
	return stripSigil(first) == stripSigil(second)
}

// Operation enumerates unary and binary operators. The comparison operators
// Eq through Le form a contiguous range.
type Operation uint8

const (
	None Operation = iota
	Add
	Sub
	Mul
	Div
	Mod
	Pow
	Eq
	Ne
	Gt
	Ge
	Lt
	Le
	And
	Or
	Not
	Conc
)

func (op Operation) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "\\"
	case Pow:
		return "^"
	case Eq:
		return "="
	case Ne:
		return "<>"
	case Gt:
		return ">"
	case Ge:
		return ">="
	case Lt:
		return "<"
	case Le:
		return "<="
	case And:
		return "AND"
	case Or:
		return "OR"
	case Not:
		return "NOT"
	case Conc:
		return "&"
	}
	return "None"
}

// IsComparison reports whether the operation is one of = <> > >= < <=.
func (op Operation) IsComparison() bool { return op >= Eq && op <= Le }

// Node is any node of the tree.
type Node interface{}

// Expression is a node carrying an inferred data type. Compound expressions
// (Binary, Unary, Apply) are constructed Void; the semantic checker fills
// the type in.
type Expression interface {
	Node
	Type() DataType
	SetType(DataType)
	exprNode()
}

// exprType implements the mutable type slot shared by all expressions.
type exprType struct {
	typ DataType
}

func (e *exprType) Type() DataType     { return e.typ }
func (e *exprType) SetType(t DataType) { e.typ = t }
func (e *exprType) exprNode()          {}

// BooleanLiteral is TRUE or FALSE.
type BooleanLiteral struct {
	exprType
	Value bool
}

func NewBoolean(value bool) *BooleanLiteral {
	return &BooleanLiteral{exprType: exprType{Boolean}, Value: value}
}

// NumberLiteral is an IEEE double literal.
type NumberLiteral struct {
	exprType
	Value float64
}

func NewNumber(value float64) *NumberLiteral {
	return &NumberLiteral{exprType: exprType{Numeric}, Value: value}
}

// TextLiteral is a quoted string with the quotes stripped.
type TextLiteral struct {
	exprType
	Value string
}

func NewText(value string) *TextLiteral {
	return &TextLiteral{exprType: exprType{Textual}, Value: value}
}

// Variable references a subroutine local by name. Its type comes from the
// name's sigil; a DIM statement converts it to Array and records the size.
type Variable struct {
	exprType
	Name      string
	ArraySize int
}

func NewVariable(name string) *Variable {
	return &Variable{exprType: exprType{IdentifierType(name)}, Name: name}
}

// Item is an indexed array element.
type Item struct {
	exprType
	Array *Variable
	Index Expression
}

func NewItem(array *Variable, index Expression) *Item {
	return &Item{exprType: exprType{Numeric}, Array: array, Index: index}
}

// Unary is -x or NOT x.
type Unary struct {
	exprType
	Op      Operation
	Operand Expression
}

func NewUnary(op Operation, operand Expression) *Unary {
	return &Unary{exprType: exprType{Void}, Op: op, Operand: operand}
}

// Binary applies one of the dialect's binary operators.
type Binary struct {
	exprType
	Op    Operation
	Left  Expression
	Right Expression
}

func NewBinary(op Operation, left, right Expression) *Binary {
	return &Binary{exprType: exprType{Void}, Op: op, Left: left, Right: right}
}

// Apply is a value-producing call. Callee is nil while the target is still a
// forward reference; the parser patches it before Parse returns.
type Apply struct {
	exprType
	Callee    *Subroutine
	Arguments []Expression
}

func NewApply(callee *Subroutine, arguments []Expression) *Apply {
	return &Apply{exprType: exprType{Void}, Callee: callee, Arguments: arguments}
}

// Statement is a node executed for effect.
type Statement interface {
	Node
	stmtNode()
}

type stmtTag struct{}

func (stmtTag) stmtNode() {}

// Sequence is an ordered statement list.
type Sequence struct {
	stmtTag
	Items []Statement
}

// Let assigns Expression to Variable, or to the element Variable(Index)
// when Index is non-nil.
type Let struct {
	stmtTag
	Variable   *Variable
	Index      Expression
	Expression Expression
}

// Dim declares Variable as an array of the given compile-time size.
type Dim struct {
	stmtTag
	Variable *Variable
	Size     *NumberLiteral
}

// Input reads a value into Variable, or into Variable(Index) when Index is
// non-nil, after printing Prompt.
type Input struct {
	stmtTag
	Prompt   *TextLiteral
	Variable *Variable
	Index    Expression
}

// Print emits the value of Expression.
type Print struct {
	stmtTag
	Expression Expression
}

// If executes Then when Condition holds and Otherwise (which may be nil, a
// nested If for an ELSEIF chain, or the final ELSE body) when it does not.
type If struct {
	stmtTag
	Condition Expression
	Then      Statement
	Otherwise Statement
}

// While repeats Body while Condition holds.
type While struct {
	stmtTag
	Condition Expression
	Body      Statement
}

// For iterates Variable from Begin to End by the compile-time Step literal.
type For struct {
	stmtTag
	Variable *Variable
	Begin    Expression
	End      Expression
	Step     *NumberLiteral
	Body     Statement
}

// Call invokes a subroutine and discards the result.
type Call struct {
	stmtTag
	Apply *Apply
}

// Subroutine is a top-level callable. It is a function when a LET in its
// body targets its own name; that local doubles as the return slot.
type Subroutine struct {
	Name             string
	Parameters       []string
	Locals           []*Variable
	Body             Statement
	IsBuiltin        bool
	IsReturningValue bool
}

// Local returns the local variable matching name under sigil-stripped
// equality, or nil.
func (s *Subroutine) Local(name string) *Variable {
	for _, v := range s.Locals {
		if SameName(v.Name, name) {
			return v
		}
	}
	return nil
}

// Program is the root node: a file name and its subroutines in source order,
// plus any built-ins registered during parsing.
type Program struct {
	FileName    string
	Subroutines []*Subroutine
}

// Subroutine returns the program subroutine matching name under
// sigil-stripped equality, or nil.
func (p *Program) Subroutine(name string) *Subroutine {
	for _, s := range p.Subroutines {
		if SameName(s.Name, name) {
			return s
		}
	}
	return nil
}
