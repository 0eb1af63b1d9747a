package linker

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
)

// ErrVerify is wrapped by every error Verify reports.
var ErrVerify = errors.New("module verification failed")

// Verify checks the structural well-formedness the downstream tooling
// depends on: every basic block of every defined function must end in a
// terminator, and every direct call must pass as many arguments as the
// callee declares (variadic callees excepted). The first defect found is
// returned.
func Verify(m *ir.Module) error {
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		for i, block := range f.Blocks {
			if block.Term == nil {
				return fmt.Errorf("%w: block %d of function %s has no terminator", ErrVerify, i, f.Name())
			}
			for _, inst := range block.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				callee, ok := call.Callee.(*ir.Func)
				if !ok {
					continue
				}
				if callee.Sig.Variadic {
					if len(call.Args) < len(callee.Params) {
						return fmt.Errorf("%w: call to %s passes %d arguments, needs at least %d",
							ErrVerify, callee.Name(), len(call.Args), len(callee.Params))
					}
					continue
				}
				if len(call.Args) != len(callee.Params) {
					return fmt.Errorf("%w: call to %s passes %d arguments, declared with %d",
						ErrVerify, callee.Name(), len(call.Args), len(callee.Params))
				}
			}
		}
	}
	return nil
}
