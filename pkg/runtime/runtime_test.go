package runtime_test

import (
	"testing"

	"github.com/llir/llvm/asm"

	"github.com/bsqlang/bsq/pkg/runtime"
)

// The §6 contract entry points every compiled program may call.
var contract = []string{
	"bsq_text_clone", "bsq_text_input", "bsq_text_print", "bsq_text_conc",
	"bsq_text_mid", "bsq_text_str",
	"bsq_text_eq", "bsq_text_ne", "bsq_text_gt", "bsq_text_ge", "bsq_text_lt", "bsq_text_le",
	"bsq_number_input", "bsq_number_print",
}

func TestLibraryParses(t *testing.T) {
	module, err := asm.ParseString(runtime.FileName, runtime.Library())
	if err != nil {
		t.Fatalf("runtime library does not parse: %v", err)
	}

	defined := make(map[string]bool)
	for _, f := range module.Funcs {
		if len(f.Blocks) > 0 {
			defined[f.Name()] = true
		}
	}

	for _, name := range contract {
		if !defined[name] {
			t.Errorf("%s is not defined by the runtime library", name)
		}
	}
}

func TestLibraryDefinesMidAndStr(t *testing.T) {
	module, err := asm.ParseString(runtime.FileName, runtime.Library())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"bsq_text_mid", "bsq_text_str"} {
		found := false
		for _, f := range module.Funcs {
			if f.Name() == name && len(f.Blocks) > 0 {
				found = true
			}
		}
		if !found {
			t.Errorf("%s must have a working body", name)
		}
	}
}
