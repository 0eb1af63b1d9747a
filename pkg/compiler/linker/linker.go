// Package linker merges the emitted program module with the pre-built
// runtime module and checks the result for structural soundness before it
// is printed.
package linker

import (
	"github.com/llir/llvm/ir"
)

// Merge links the runtime module into the program module in place and
// returns the program module. Runtime definitions are grafted onto the
// program's matching declarations, so every call site keeps its callee;
// symbols only one side knows are appended, and declarations both sides
// share (malloc, free, libc helpers) keep the program's copy.
func Merge(program, runtime *ir.Module) *ir.Module {
	funcs := make(map[string]*ir.Func, len(program.Funcs))
	for _, f := range program.Funcs {
		funcs[f.Name()] = f
	}

	for _, rf := range runtime.Funcs {
		pf, ok := funcs[rf.Name()]
		if !ok {
			program.Funcs = append(program.Funcs, rf)
			funcs[rf.Name()] = rf
			continue
		}
		if len(pf.Blocks) == 0 && len(rf.Blocks) > 0 {
			pf.Params = rf.Params
			pf.Blocks = rf.Blocks
			for _, block := range pf.Blocks {
				block.Parent = pf
			}
		}
	}

	globals := make(map[string]bool, len(program.Globals))
	for _, g := range program.Globals {
		globals[g.Name()] = true
	}
	for _, rg := range runtime.Globals {
		if !globals[rg.Name()] {
			program.Globals = append(program.Globals, rg)
		}
	}

	program.TypeDefs = append(program.TypeDefs, runtime.TypeDefs...)

	return program
}
