// Package checker walks the AST once per subroutine, enforcing the typing
// rules of the language and filling in the inferred types of compound
// expressions. It stops at the first violation.
package checker

import (
	"errors"
	"fmt"
	"math"

	"github.com/bsqlang/bsq/pkg/compiler/ast"
)

// ErrType is wrapped by every error the checker reports.
var ErrType = errors.New("type check error")

// Check verifies the whole program. The only tree mutations are the type
// slots of compound expressions and the Array conversion performed by DIM;
// running Check twice on the same tree reports nothing the second time.
func Check(program *ast.Program) error {
	for _, subroutine := range program.Subroutines {
		if err := checkSubroutine(subroutine); err != nil {
			return err
		}
	}
	return nil
}

func checkSubroutine(subroutine *ast.Subroutine) error {
	if subroutine.Name == "Main" && len(subroutine.Parameters) > 0 {
		return fmt.Errorf("%w: subroutine Main must not take parameters", ErrType)
	}
	if subroutine.IsBuiltin {
		return nil
	}
	return checkStatement(subroutine.Body)
}

func checkStatement(statement ast.Statement) error {
	switch s := statement.(type) {
	case nil:
		return nil
	case *ast.Sequence:
		for _, item := range s.Items {
			if err := checkStatement(item); err != nil {
				return err
			}
		}
		return nil
	case *ast.Let:
		return checkLet(s)
	case *ast.Dim:
		return checkDim(s)
	case *ast.Input:
		return checkInput(s)
	case *ast.Print:
		return checkExpression(s.Expression)
	case *ast.If:
		return checkIf(s)
	case *ast.While:
		return checkWhile(s)
	case *ast.For:
		return checkFor(s)
	case *ast.Call:
		return checkCall(s)
	}
	return fmt.Errorf("%w: unknown statement", ErrType)
}

func checkLet(let *ast.Let) error {
	if let.Index != nil {
		if let.Variable.Type() != ast.Array {
			return fmt.Errorf("%w: %s is not of type %v", ErrType, let.Variable.Name, ast.Array)
		}
		if err := checkExpression(let.Index); err != nil {
			return err
		}
		if let.Index.Type() != ast.Numeric {
			return fmt.Errorf("%w: array index must be of type %v", ErrType, ast.Numeric)
		}
		if err := checkExpression(let.Expression); err != nil {
			return err
		}
		if let.Expression.Type() != ast.Numeric {
			return fmt.Errorf("%w: variable of type %v is assigned an expression of type %v",
				ErrType, let.Variable.Type(), let.Expression.Type())
		}
		return nil
	}

	if err := checkExpression(let.Expression); err != nil {
		return err
	}
	if let.Expression.Type() != let.Variable.Type() {
		return fmt.Errorf("%w: variable of type %v is assigned an expression of type %v",
			ErrType, let.Variable.Type(), let.Expression.Type())
	}
	return nil
}

func checkDim(dim *ast.Dim) error {
	size := dim.Size.Value
	if size <= 0 || size != math.Trunc(size) {
		return fmt.Errorf("%w: array size must be a positive integer", ErrType)
	}
	dim.Variable.SetType(ast.Array)
	dim.Variable.ArraySize = int(size)
	return nil
}

func checkInput(input *ast.Input) error {
	if input.Index != nil {
		if input.Variable.Type() != ast.Array {
			return fmt.Errorf("%w: %s is not of type %v", ErrType, input.Variable.Name, ast.Array)
		}
		if err := checkExpression(input.Index); err != nil {
			return err
		}
		if input.Index.Type() != ast.Numeric {
			return fmt.Errorf("%w: array index must be of type %v", ErrType, ast.Numeric)
		}
		return nil
	}
	if input.Variable.Type() == ast.Boolean {
		return fmt.Errorf("%w: INPUT target must be of type %v or %v", ErrType, ast.Numeric, ast.Textual)
	}
	return nil
}

func checkIf(ifNode *ast.If) error {
	if err := checkExpression(ifNode.Condition); err != nil {
		return err
	}
	if ifNode.Condition.Type() != ast.Boolean {
		return fmt.Errorf("%w: condition of IF is of type %v, must be %v",
			ErrType, ifNode.Condition.Type(), ast.Boolean)
	}
	if err := checkStatement(ifNode.Then); err != nil {
		return err
	}
	return checkStatement(ifNode.Otherwise)
}

func checkWhile(while *ast.While) error {
	if err := checkExpression(while.Condition); err != nil {
		return err
	}
	if while.Condition.Type() != ast.Boolean {
		return fmt.Errorf("%w: condition of WHILE is of type %v, must be %v",
			ErrType, while.Condition.Type(), ast.Boolean)
	}
	return checkStatement(while.Body)
}

func checkFor(forNode *ast.For) error {
	if forNode.Variable.Type() != ast.Numeric {
		return fmt.Errorf("%w: variable of FOR is of type %v, must be %v",
			ErrType, forNode.Variable.Type(), ast.Numeric)
	}
	if err := checkExpression(forNode.Begin); err != nil {
		return err
	}
	if forNode.Begin.Type() != ast.Numeric {
		return fmt.Errorf("%w: begin value of FOR is of type %v, must be %v",
			ErrType, forNode.Begin.Type(), ast.Numeric)
	}
	if err := checkExpression(forNode.End); err != nil {
		return err
	}
	if forNode.End.Type() != ast.Numeric {
		return fmt.Errorf("%w: end value of FOR is of type %v, must be %v",
			ErrType, forNode.End.Type(), ast.Numeric)
	}
	if forNode.Step.Value == 0 {
		return fmt.Errorf("%w: step of FOR is zero", ErrType)
	}
	return checkStatement(forNode.Body)
}

// checkCall reuses the Apply check; the returning-value flag is forced for
// the duration so that plain procedures pass it.
func checkCall(call *ast.Call) error {
	callee := call.Apply.Callee

	cached := callee.IsReturningValue
	callee.IsReturningValue = true
	err := checkApply(call.Apply)
	callee.IsReturningValue = cached

	return err
}

func checkExpression(expression ast.Expression) error {
	switch e := expression.(type) {
	case *ast.BooleanLiteral, *ast.NumberLiteral, *ast.TextLiteral, *ast.Variable:
		return nil
	case *ast.Item:
		return checkItem(e)
	case *ast.Unary:
		return checkUnary(e)
	case *ast.Binary:
		return checkBinary(e)
	case *ast.Apply:
		return checkApply(e)
	}
	return fmt.Errorf("%w: unknown expression", ErrType)
}

func checkItem(item *ast.Item) error {
	if item.Array.Type() != ast.Array {
		return fmt.Errorf("%w: only variables of type %v can be indexed", ErrType, ast.Array)
	}
	if err := checkExpression(item.Index); err != nil {
		return err
	}
	if item.Index.Type() != ast.Numeric {
		return fmt.Errorf("%w: array index must be of type %v", ErrType, ast.Numeric)
	}
	item.SetType(ast.Numeric)
	return nil
}

func checkUnary(unary *ast.Unary) error {
	if err := checkExpression(unary.Operand); err != nil {
		return err
	}

	switch unary.Op {
	case ast.Not:
		if unary.Operand.Type() != ast.Boolean {
			return fmt.Errorf("%w: '%v' operand is of type %v, must be %v",
				ErrType, unary.Op, unary.Operand.Type(), ast.Boolean)
		}
		unary.SetType(ast.Boolean)
	case ast.Sub:
		if unary.Operand.Type() != ast.Numeric {
			return fmt.Errorf("%w: '%v' operand is of type %v, must be %v",
				ErrType, unary.Op, unary.Operand.Type(), ast.Numeric)
		}
		unary.SetType(ast.Numeric)
	default:
		return fmt.Errorf("%w: unknown unary operation", ErrType)
	}
	return nil
}

func checkBinary(binary *ast.Binary) error {
	if err := checkExpression(binary.Left); err != nil {
		return err
	}
	if err := checkExpression(binary.Right); err != nil {
		return err
	}

	left := binary.Left.Type()
	right := binary.Right.Type()
	op := binary.Op

	if left != right {
		return fmt.Errorf("%w: '%v' operands have different types: %v and %v", ErrType, op, left, right)
	}

	switch left {
	case ast.Boolean:
		if op != ast.And && op != ast.Or && op != ast.Eq && op != ast.Ne {
			return fmt.Errorf("%w: '%v' does not apply to operands of type %v", ErrType, op, left)
		}
		binary.SetType(ast.Boolean)
	case ast.Numeric:
		if op == ast.Conc || op == ast.And || op == ast.Or {
			return fmt.Errorf("%w: '%v' does not apply to operands of type %v", ErrType, op, left)
		}
		if op.IsComparison() {
			binary.SetType(ast.Boolean)
		} else {
			binary.SetType(ast.Numeric)
		}
	case ast.Textual:
		switch {
		case op == ast.Conc:
			binary.SetType(ast.Textual)
		case op.IsComparison():
			binary.SetType(ast.Boolean)
		default:
			return fmt.Errorf("%w: '%v' does not apply to operands of type %v", ErrType, op, left)
		}
	default:
		return fmt.Errorf("%w: '%v' does not apply to operands of type %v", ErrType, op, left)
	}
	return nil
}

func checkApply(apply *ast.Apply) error {
	callee := apply.Callee

	if !callee.IsReturningValue {
		return fmt.Errorf("%w: subroutine %s is not a function", ErrType, callee.Name)
	}

	if len(callee.Parameters) != len(apply.Arguments) {
		return fmt.Errorf("%w: %s takes %d parameters, got %d arguments",
			ErrType, callee.Name, len(callee.Parameters), len(apply.Arguments))
	}

	for i, argument := range apply.Arguments {
		if err := checkExpression(argument); err != nil {
			return err
		}
		want := ast.IdentifierType(callee.Parameters[i])
		if got := argument.Type(); got != want {
			return fmt.Errorf("%w: parameter %d of %s is of type %v, argument is of type %v",
				ErrType, i+1, callee.Name, want, got)
		}
	}

	apply.SetType(ast.IdentifierType(callee.Name))
	return nil
}
