package linker_test

import (
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"github.com/bsqlang/bsq/pkg/compiler/linker"
)

func TestMergeGraftsDefinitions(t *testing.T) {
	program := ir.NewModule()
	decl := program.NewFunc("helper", types.Void)
	caller := program.NewFunc("caller", types.Void)
	block := caller.NewBlock("entry")
	block.NewCall(decl)
	block.NewRet(nil)

	runtime := ir.NewModule()
	def := runtime.NewFunc("helper", types.Void)
	body := def.NewBlock("entry")
	body.NewRet(nil)

	merged := linker.Merge(program, runtime)

	printed := merged.String()
	if strings.Contains(printed, "declare void @helper()") {
		t.Error("declaration should have been replaced by the definition")
	}
	if !strings.Contains(printed, "define void @helper()") {
		t.Error("definition missing from merged module")
	}
	if got := strings.Count(printed, "@helper()"); got != 2 {
		// one definition, one call
		t.Errorf("helper appears %d times, want 2:\n%s", got, printed)
	}
}

func TestMergeAppendsNewSymbols(t *testing.T) {
	program := ir.NewModule()
	main := program.NewFunc("main", types.I32)
	entry := main.NewBlock("entry")
	entry.NewRet(constant.NewInt(types.I32, 0))

	runtime := ir.NewModule()
	runtime.NewFunc("printf", types.I32, ir.NewParam("", types.I8Ptr))
	runtime.NewGlobalDef("fmt", constant.NewCharArrayFromString("%s\x00"))

	merged := linker.Merge(program, runtime)

	printed := merged.String()
	if !strings.Contains(printed, "@printf") {
		t.Error("runtime-only function not appended")
	}
	if !strings.Contains(printed, "@fmt") {
		t.Error("runtime-only global not appended")
	}
}

func TestMergeKeepsSingleDeclaration(t *testing.T) {
	program := ir.NewModule()
	program.NewFunc("malloc", types.I8Ptr, ir.NewParam("", types.I64))

	runtime := ir.NewModule()
	runtime.NewFunc("malloc", types.I8Ptr, ir.NewParam("", types.I64))

	merged := linker.Merge(program, runtime)
	if got := strings.Count(merged.String(), "declare i8* @malloc"); got != 1 {
		t.Errorf("malloc declared %d times, want 1", got)
	}
}

func TestVerifyAcceptsTerminatedBlocks(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("ok", types.Void)
	f.NewBlock("entry").NewRet(nil)

	if err := linker.Verify(m); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("broken", types.Void)
	f.NewBlock("entry")

	if err := linker.Verify(m); err == nil {
		t.Fatal("expected a verification error")
	}
}

func TestVerifyRejectsArityMismatch(t *testing.T) {
	m := ir.NewModule()
	callee := m.NewFunc("callee", types.Void, ir.NewParam("", types.Double))
	caller := m.NewFunc("caller", types.Void)
	entry := caller.NewBlock("entry")
	entry.NewCall(callee)
	entry.NewRet(nil)

	if err := linker.Verify(m); err == nil {
		t.Fatal("expected a verification error")
	}
}
