// Package emitter lowers a checked AST into an LLVM IR module. It manages
// function declaration order, basic-block layout, string interning and the
// ownership of temporary text values, and declares the runtime library
// symbols the generated code links against.
package emitter

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/bsqlang/bsq/pkg/compiler/ast"
)

// textType is the in-register representation of a textual value: a pointer
// to a heap-owned NUL-terminated byte buffer.
var textType = types.I8Ptr

// builtinNames maps built-in subroutine names to their runtime symbols.
var builtinNames = map[string]string{
	"MID$": "bsq_text_mid",
	"STR$": "bsq_text_str",
	"SQR":  "sqrt",
}

// Emitter builds one IR module per program.
type Emitter struct {
	m       *ir.Module
	library map[string]*ir.Func
	funcs   map[string]*ir.Func

	// interned text literals, by literal value
	strings    map[string]constant.Constant
	stringsSeq int

	// per-subroutine state
	f     *ir.Func
	block *ir.Block
	addrs map[string]value.Value
}

// New creates an emitter with the runtime library symbols declared.
func New() *Emitter {
	e := &Emitter{
		m:       ir.NewModule(),
		library: make(map[string]*ir.Func),
		funcs:   make(map[string]*ir.Func),
		strings: make(map[string]constant.Constant),
	}
	e.prepareLibrary()
	return e
}

// Emit lowers the program into a fresh module: all user subroutines are
// declared first so forward calls resolve, then defined, then the process
// entry point is generated.
func (e *Emitter) Emit(program *ast.Program) (*ir.Module, error) {
	e.declareSubroutines(program)

	for _, subroutine := range program.Subroutines {
		if subroutine.IsBuiltin {
			continue
		}
		if err := e.defineSubroutine(subroutine); err != nil {
			return nil, err
		}
	}

	e.createEntryPoint()

	return e.m, nil
}

func (e *Emitter) prepareLibrary() {
	e.declareLibraryFunc("bsq_text_clone", textType, textType)
	e.declareLibraryFunc("bsq_text_input", textType, textType)
	e.declareLibraryFunc("bsq_text_print", types.Void, textType)
	e.declareLibraryFunc("bsq_text_conc", textType, textType, textType)
	e.declareLibraryFunc("bsq_text_mid", textType, textType, types.Double, types.Double)
	e.declareLibraryFunc("bsq_text_str", textType, types.Double)
	e.declareLibraryFunc("bsq_text_eq", types.I1, textType, textType)
	e.declareLibraryFunc("bsq_text_ne", types.I1, textType, textType)
	e.declareLibraryFunc("bsq_text_gt", types.I1, textType, textType)
	e.declareLibraryFunc("bsq_text_ge", types.I1, textType, textType)
	e.declareLibraryFunc("bsq_text_lt", types.I1, textType, textType)
	e.declareLibraryFunc("bsq_text_le", types.I1, textType, textType)

	e.declareLibraryFunc("bsq_number_input", types.Double, textType)
	e.declareLibraryFunc("bsq_number_print", types.Void, types.Double)

	e.declareLibraryFunc("pow", types.Double, types.Double, types.Double)
	e.declareLibraryFunc("sqrt", types.Double, types.Double)

	e.declareLibraryFunc("malloc", textType, types.I64)
	e.declareLibraryFunc("free", types.Void, textType)
}

func (e *Emitter) declareLibraryFunc(name string, ret types.Type, params ...types.Type) {
	irParams := make([]*ir.Param, len(params))
	for i, t := range params {
		irParams[i] = ir.NewParam("", t)
	}
	e.library[name] = e.m.NewFunc(name, ret, irParams...)
}

func (e *Emitter) callLibrary(name string, args ...value.Value) *ir.InstCall {
	return e.block.NewCall(e.library[name], args...)
}

// toIRType maps a data type to its in-register IR type.
func toIRType(t ast.DataType) types.Type {
	switch t {
	case ast.Boolean:
		return types.I1
	case ast.Numeric:
		return types.Double
	case ast.Textual:
		return textType
	case ast.Array:
		return types.NewPointer(types.Double)
	}
	return types.Void
}

func (e *Emitter) declareSubroutines(program *ast.Program) {
	for _, subroutine := range program.Subroutines {
		if subroutine.IsBuiltin {
			continue
		}

		params := make([]*ir.Param, len(subroutine.Parameters))
		for i, parameter := range subroutine.Parameters {
			params[i] = ir.NewParam(parameter, toIRType(ast.IdentifierType(parameter)))
		}

		ret := types.Type(types.Void)
		if subroutine.IsReturningValue {
			ret = toIRType(ast.IdentifierType(subroutine.Name))
		}

		e.funcs[subroutine.Name] = e.m.NewFunc(subroutine.Name, ret, params...)
	}
}

// defineSubroutine emits the body of one user subroutine: stack slots for
// all locals, ownership-taking stores of the parameters, a live buffer in
// every remaining textual slot, the statements, then the frees and the
// return sequence.
func (e *Emitter) defineSubroutine(subroutine *ast.Subroutine) error {
	e.f = e.funcs[subroutine.Name]
	e.block = e.f.NewBlock("label_start")
	e.addrs = make(map[string]value.Value)

	// Textual slots not initialized from a parameter; they receive a
	// one-byte allocation so that every textual slot is freeable.
	var uninitText []value.Value

	for _, local := range subroutine.Locals {
		var slot *ir.InstAlloca
		switch local.Type() {
		case ast.Boolean:
			slot = e.block.NewAlloca(types.I8)
		case ast.Array:
			slot = e.block.NewAlloca(types.Double)
			slot.NElems = constant.NewInt(types.I32, int64(local.ArraySize))
		default:
			slot = e.block.NewAlloca(toIRType(local.Type()))
		}
		slot.SetName(local.Name + "_addr")
		e.addrs[local.Name] = slot
		if local.Type() == ast.Textual {
			uninitText = append(uninitText, slot)
		}
	}

	for i, param := range e.f.Params {
		slot := e.addrs[subroutine.Parameters[i]]
		switch ast.IdentifierType(subroutine.Parameters[i]) {
		case ast.Textual:
			// The callee owns its textual parameters.
			clone := e.callLibrary("bsq_text_clone", param)
			e.block.NewStore(clone, slot)
			uninitText = removeValue(uninitText, slot)
		case ast.Boolean:
			e.block.NewStore(e.block.NewZExt(param, types.I8), slot)
		default:
			e.block.NewStore(param, slot)
		}
	}

	one := constant.NewInt(types.I64, 1)
	for _, slot := range uninitText {
		e.block.NewStore(e.callLibrary("malloc", one), slot)
	}

	if err := e.emitStatement(subroutine.Body); err != nil {
		return err
	}

	for _, local := range subroutine.Locals {
		if local.Type() != ast.Textual || ast.SameName(local.Name, subroutine.Name) {
			continue
		}
		e.callLibrary("free", e.block.NewLoad(textType, e.addrs[local.Name]))
	}

	if !subroutine.IsReturningValue {
		e.block.NewRet(nil)
		return nil
	}

	slot := e.returnSlot(subroutine)
	if slot == nil {
		return fmt.Errorf("emitter: %s has no return slot", subroutine.Name)
	}
	switch ast.IdentifierType(subroutine.Name) {
	case ast.Boolean:
		loaded := e.block.NewLoad(types.I8, slot)
		e.block.NewRet(e.block.NewTrunc(loaded, types.I1))
	case ast.Textual:
		e.block.NewRet(e.block.NewLoad(textType, slot))
	default:
		e.block.NewRet(e.block.NewLoad(types.Double, slot))
	}
	return nil
}

// returnSlot finds the local doubling as the subroutine's return value.
func (e *Emitter) returnSlot(subroutine *ast.Subroutine) value.Value {
	for _, local := range subroutine.Locals {
		if ast.SameName(local.Name, subroutine.Name) {
			return e.addrs[local.Name]
		}
	}
	return nil
}

// setBlock makes block current, closing the previous block with a fallthrough
// branch when it has no terminator yet.
func (e *Emitter) setBlock(block *ir.Block) {
	if e.block != nil && e.block.Term == nil {
		e.block.NewBr(block)
	}
	e.block = block
}

func (e *Emitter) emitStatement(statement ast.Statement) error {
	switch s := statement.(type) {
	case nil:
		return nil
	case *ast.Sequence:
		for _, item := range s.Items {
			if err := e.emitStatement(item); err != nil {
				return err
			}
		}
		return nil
	case *ast.Let:
		return e.emitLet(s)
	case *ast.Dim:
		// Storage comes from the function-entry alloca.
		return nil
	case *ast.Input:
		return e.emitInput(s)
	case *ast.Print:
		return e.emitPrint(s)
	case *ast.If:
		return e.emitIf(s)
	case *ast.While:
		return e.emitWhile(s)
	case *ast.For:
		return e.emitFor(s)
	case *ast.Call:
		_, err := e.emitApply(s.Apply)
		return err
	}
	return fmt.Errorf("emitter: unknown statement %T", statement)
}

// elementAddress computes the address of a 1-based array element.
func (e *Emitter) elementAddress(array *ast.Variable, index ast.Expression) (value.Value, error) {
	idx, err := e.emitExpression(index)
	if err != nil {
		return nil, err
	}
	i := e.block.NewFPToSI(idx, types.I32)
	shifted := e.block.NewAdd(constant.NewInt(types.I32, -1), i)
	return e.block.NewGetElementPtr(types.Double, e.addrs[array.Name], shifted), nil
}

func (e *Emitter) emitLet(let *ast.Let) error {
	v, err := e.emitExpression(let.Expression)
	if err != nil {
		return err
	}

	if let.Index != nil {
		address, err := e.elementAddress(let.Variable, let.Index)
		if err != nil {
			return err
		}
		e.block.NewStore(v, address)
		return nil
	}

	slot := e.addrs[let.Variable.Name]
	switch let.Variable.Type() {
	case ast.Textual:
		e.callLibrary("free", e.block.NewLoad(textType, slot))
		if !isTemporaryText(let.Expression) {
			v = e.callLibrary("bsq_text_clone", v)
		}
	case ast.Boolean:
		v = e.block.NewZExt(v, types.I8)
	}
	e.block.NewStore(v, slot)
	return nil
}

func (e *Emitter) emitInput(input *ast.Input) error {
	prompt, err := e.emitExpression(input.Prompt)
	if err != nil {
		return err
	}

	if input.Index != nil {
		v := e.callLibrary("bsq_number_input", prompt)
		address, err := e.elementAddress(input.Variable, input.Index)
		if err != nil {
			return err
		}
		e.block.NewStore(v, address)
		return nil
	}

	slot := e.addrs[input.Variable.Name]
	if input.Variable.Type() == ast.Textual {
		// The reader hands back an owned buffer; release the old one and
		// store the new one directly.
		e.callLibrary("free", e.block.NewLoad(textType, slot))
		e.block.NewStore(e.callLibrary("bsq_text_input", prompt), slot)
		return nil
	}
	e.block.NewStore(e.callLibrary("bsq_number_input", prompt), slot)
	return nil
}

func (e *Emitter) emitPrint(print *ast.Print) error {
	v, err := e.emitExpression(print.Expression)
	if err != nil {
		return err
	}

	switch print.Expression.Type() {
	case ast.Boolean:
		// The runtime has no boolean writer; PRINT of a boolean is silent.
	case ast.Textual:
		e.callLibrary("bsq_text_print", v)
		if isTemporaryText(print.Expression) {
			e.callLibrary("free", v)
		}
	default:
		e.callLibrary("bsq_number_print", v)
	}
	return nil
}

func (e *Emitter) emitIf(ifNode *ast.If) error {
	end := e.f.NewBlock("")

	e.setBlock(e.f.NewBlock(""))

	var statement ast.Statement = ifNode
	for {
		chained, ok := statement.(*ast.If)
		if !ok {
			break
		}

		then := e.f.NewBlock("")
		otherwise := e.f.NewBlock("")

		condition, err := e.emitExpression(chained.Condition)
		if err != nil {
			return err
		}
		e.block.NewCondBr(condition, then, otherwise)

		e.setBlock(then)
		if err := e.emitStatement(chained.Then); err != nil {
			return err
		}
		// Every arm exits straight to the end block; the otherwise block
		// is entered only through the failed condition.
		if e.block.Term == nil {
			e.block.NewBr(end)
		}
		e.block = otherwise

		statement = chained.Otherwise
	}

	if statement != nil {
		if err := e.emitStatement(statement); err != nil {
			return err
		}
	}

	e.setBlock(end)
	return nil
}

func (e *Emitter) emitWhile(while *ast.While) error {
	condition := e.f.NewBlock("")
	body := e.f.NewBlock("")
	end := e.f.NewBlock("")

	e.setBlock(condition)
	c, err := e.emitExpression(while.Condition)
	if err != nil {
		return err
	}
	e.block.NewCondBr(c, body, end)

	e.setBlock(body)
	if err := e.emitStatement(while.Body); err != nil {
		return err
	}
	e.setBlock(condition)

	e.block = end
	return nil
}

func (e *Emitter) emitFor(forNode *ast.For) error {
	slot := e.addrs[forNode.Variable.Name]

	begin, err := e.emitExpression(forNode.Begin)
	if err != nil {
		return err
	}
	e.block.NewStore(begin, slot)

	// The end bound is evaluated once, before the loop.
	end, err := e.emitExpression(forNode.End)
	if err != nil {
		return err
	}
	step := constant.NewFloat(types.Double, forNode.Step.Value)

	condition := e.f.NewBlock("")
	body := e.f.NewBlock("")
	exit := e.f.NewBlock("")

	e.setBlock(condition)
	current := e.block.NewLoad(types.Double, slot)
	pred := enum.FPredOLT
	if forNode.Step.Value < 0 {
		pred = enum.FPredOGT
	}
	e.block.NewCondBr(e.block.NewFCmp(pred, current, end), body, exit)

	e.setBlock(body)
	if err := e.emitStatement(forNode.Body); err != nil {
		return err
	}
	next := e.block.NewFAdd(e.block.NewLoad(types.Double, slot), step)
	e.block.NewStore(next, slot)
	e.setBlock(condition)

	e.block = exit
	return nil
}

func (e *Emitter) emitExpression(expression ast.Expression) (value.Value, error) {
	switch x := expression.(type) {
	case *ast.BooleanLiteral:
		return constant.NewBool(x.Value), nil
	case *ast.NumberLiteral:
		return constant.NewFloat(types.Double, x.Value), nil
	case *ast.TextLiteral:
		return e.emitText(x), nil
	case *ast.Variable:
		return e.emitVariable(x), nil
	case *ast.Item:
		address, err := e.elementAddress(x.Array, x.Index)
		if err != nil {
			return nil, err
		}
		return e.block.NewLoad(types.Double, address), nil
	case *ast.Unary:
		return e.emitUnary(x)
	case *ast.Binary:
		return e.emitBinary(x)
	case *ast.Apply:
		return e.emitApply(x)
	}
	return nil, fmt.Errorf("emitter: unknown expression %T", expression)
}

// emitText returns the interned global pointer for a text literal.
func (e *Emitter) emitText(text *ast.TextLiteral) value.Value {
	if interned, ok := e.strings[text.Value]; ok {
		return interned
	}

	name := "g_str"
	if e.stringsSeq > 0 {
		name = fmt.Sprintf("g_str.%d", e.stringsSeq)
	}
	e.stringsSeq++

	global := e.m.NewGlobalDef(name, constant.NewCharArrayFromString(text.Value+"\x00"))
	global.Linkage = enum.LinkagePrivate
	global.UnnamedAddr = enum.UnnamedAddrUnnamedAddr
	global.Immutable = true

	zero := constant.NewInt(types.I64, 0)
	pointer := constant.NewGetElementPtr(global.ContentType, global, zero, zero)
	e.strings[text.Value] = pointer
	return pointer
}

func (e *Emitter) emitVariable(variable *ast.Variable) value.Value {
	slot := e.addrs[variable.Name]
	switch variable.Type() {
	case ast.Boolean:
		loaded := e.block.NewLoad(types.I8, slot)
		return e.block.NewTrunc(loaded, types.I1)
	case ast.Array:
		return slot
	case ast.Textual:
		return e.block.NewLoad(textType, slot)
	}
	return e.block.NewLoad(types.Double, slot)
}

func (e *Emitter) emitUnary(unary *ast.Unary) (value.Value, error) {
	operand, err := e.emitExpression(unary.Operand)
	if err != nil {
		return nil, err
	}
	if unary.Op == ast.Sub {
		return e.block.NewFNeg(operand), nil
	}
	return e.block.NewXor(operand, constant.True), nil
}

func (e *Emitter) emitBinary(binary *ast.Binary) (value.Value, error) {
	textual := binary.Left.Type() == ast.Textual

	lhs, err := e.emitExpression(binary.Left)
	if err != nil {
		return nil, err
	}
	rhs, err := e.emitExpression(binary.Right)
	if err != nil {
		return nil, err
	}

	var result value.Value
	switch binary.Op {
	case ast.Add:
		result = e.block.NewFAdd(lhs, rhs)
	case ast.Sub:
		result = e.block.NewFSub(lhs, rhs)
	case ast.Mul:
		result = e.block.NewFMul(lhs, rhs)
	case ast.Div:
		result = e.block.NewFDiv(lhs, rhs)
	case ast.Mod:
		result = e.block.NewFRem(lhs, rhs)
	case ast.Pow:
		result = e.callLibrary("pow", lhs, rhs)
	case ast.Eq, ast.Ne, ast.Gt, ast.Ge, ast.Lt, ast.Le:
		result = e.emitComparison(binary, lhs, rhs)
	case ast.And:
		result = e.block.NewAnd(lhs, rhs)
	case ast.Or:
		result = e.block.NewOr(lhs, rhs)
	case ast.Conc:
		result = e.callLibrary("bsq_text_conc", lhs, rhs)
	default:
		return nil, fmt.Errorf("emitter: unknown binary operation %v", binary.Op)
	}

	if textual {
		// The runtime does not retain comparison or concatenation operands.
		if isTemporaryText(binary.Left) {
			e.callLibrary("free", lhs)
		}
		if isTemporaryText(binary.Right) {
			e.callLibrary("free", rhs)
		}
	}

	return result, nil
}

var textComparisons = map[ast.Operation]string{
	ast.Eq: "bsq_text_eq",
	ast.Ne: "bsq_text_ne",
	ast.Gt: "bsq_text_gt",
	ast.Ge: "bsq_text_ge",
	ast.Lt: "bsq_text_lt",
	ast.Le: "bsq_text_le",
}

var floatPredicates = map[ast.Operation]enum.FPred{
	ast.Eq: enum.FPredOEQ,
	ast.Ne: enum.FPredONE,
	ast.Gt: enum.FPredOGT,
	ast.Ge: enum.FPredOGE,
	ast.Lt: enum.FPredOLT,
	ast.Le: enum.FPredOLE,
}

func (e *Emitter) emitComparison(binary *ast.Binary, lhs, rhs value.Value) value.Value {
	switch binary.Left.Type() {
	case ast.Textual:
		return e.callLibrary(textComparisons[binary.Op], lhs, rhs)
	case ast.Boolean:
		pred := enum.IPredEQ
		if binary.Op == ast.Ne {
			pred = enum.IPredNE
		}
		return e.block.NewICmp(pred, lhs, rhs)
	}
	return e.block.NewFCmp(floatPredicates[binary.Op], lhs, rhs)
}

// emitApply lowers a call. Arguments that produced temporary texts are
// released after the call: the callee cloned them on entry, so neither side
// needs them afterwards.
func (e *Emitter) emitApply(apply *ast.Apply) (value.Value, error) {
	var args, temporaries []value.Value
	for _, argument := range apply.Arguments {
		arg, err := e.emitExpression(argument)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if isTemporaryText(argument) {
			temporaries = append(temporaries, arg)
		}
	}

	callee := e.funcs[apply.Callee.Name]
	if apply.Callee.IsBuiltin {
		callee = e.library[builtinNames[apply.Callee.Name]]
	}
	if callee == nil {
		return nil, fmt.Errorf("emitter: unknown callee %s", apply.Callee.Name)
	}

	call := e.block.NewCall(callee, args...)

	for _, temporary := range temporaries {
		e.callLibrary("free", temporary)
	}

	return call, nil
}

// createEntryPoint generates main, calling the program's Main first when it
// exists.
func (e *Emitter) createEntryPoint() {
	main := e.m.NewFunc("main", types.I32)
	e.block = main.NewBlock("start")

	if userMain, ok := e.funcs["Main"]; ok {
		e.block.NewCall(userMain)
	}

	e.block.NewRet(constant.NewInt(types.I32, 0))
}

// isTemporaryText reports whether a text expression's value is an owned
// temporary the consumer must free: anything but a plain literal or a
// direct variable load.
func isTemporaryText(expression ast.Expression) bool {
	if expression.Type() != ast.Textual {
		return false
	}
	switch expression.(type) {
	case *ast.TextLiteral, *ast.Variable:
		return false
	}
	return true
}

func removeValue(values []value.Value, v value.Value) []value.Value {
	for i, candidate := range values {
		if candidate == v {
			return append(values[:i], values[i+1:]...)
		}
	}
	return values
}
