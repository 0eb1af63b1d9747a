// Package compiler wires the pipeline together: lexing, parsing, semantic
// checking, IR generation, linking against the runtime library, structural
// verification and printing of the final module.
package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/bsqlang/bsq/pkg/compiler/checker"
	"github.com/bsqlang/bsq/pkg/compiler/emitter"
	"github.com/bsqlang/bsq/pkg/compiler/lexer"
	"github.com/bsqlang/bsq/pkg/compiler/linker"
	"github.com/bsqlang/bsq/pkg/compiler/parser"
	"github.com/bsqlang/bsq/pkg/runtime"
)

// Build compiles source into a verified module linked against the given
// runtime library IR.
func Build(fileName string, source []byte, libraryIR string) (*ir.Module, error) {
	program, err := parser.New(lexer.NewScanner(source), fileName).Parse()
	if err != nil {
		return nil, err
	}

	if err := checker.Check(program); err != nil {
		return nil, err
	}

	module, err := emitter.New().Emit(program)
	if err != nil {
		return nil, err
	}

	library, err := asm.ParseString(runtime.FileName, libraryIR)
	if err != nil {
		return nil, fmt.Errorf("parse runtime library: %w", err)
	}

	linked := linker.Merge(module, library)
	if err := linker.Verify(linked); err != nil {
		return nil, err
	}

	return linked, nil
}

// Compile compiles one source file and writes the linked module next to it
// with the extension replaced by .ll.
func Compile(path string) error {
	return CompileWithRuntime(path, runtime.Library())
}

// CompileWithRuntime is Compile with an explicit runtime library IR text.
func CompileWithRuntime(path, libraryIR string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	module, err := Build(path, source, libraryIR)
	if err != nil {
		return err
	}

	return os.WriteFile(OutputPath(path), []byte(module.String()), 0o644)
}

// OutputPath returns the .ll path the compiled module is written to.
func OutputPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".ll"
}
