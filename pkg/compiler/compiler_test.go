package compiler_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"

	"github.com/bsqlang/bsq/pkg/compiler"
	"github.com/bsqlang/bsq/pkg/compiler/checker"
	"github.com/bsqlang/bsq/pkg/compiler/parser"
	"github.com/bsqlang/bsq/pkg/runtime"
)

func TestBuildScenarios(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		contains []string
	}{
		{
			name: "hello world",
			src: `SUB Main
  PRINT "Hello, world!"
END SUB
`,
			contains: []string{"@bsq_text_print", `c"Hello, world!\00"`, "define i32 @main()"},
		},
		{
			name: "sum loop",
			src: `SUB Main
  LET S = 0
  FOR I = 1 TO 10
    LET S = S + I
  END FOR
  PRINT S
END SUB
`,
			contains: []string{"fcmp olt", "fadd", "@bsq_number_print"},
		},
		{
			name: "input echo",
			src: `SUB Main
  INPUT "Name:", N$
  PRINT "Hi, " & N$
END SUB
`,
			contains: []string{"@bsq_text_input", "@bsq_text_conc", `c"Name:\00"`},
		},
		{
			name: "mutual recursion",
			src: `SUB Main
  PRINT Even(4)
END SUB

SUB Even?(n)
  IF n = 0 THEN
    LET Even? = TRUE
  ELSE
    LET Even? = Odd(n - 1)
  END IF
END SUB

SUB Odd?(n)
  IF n = 0 THEN
    LET Odd? = FALSE
  ELSE
    LET Odd? = Even(n - 1)
  END IF
END SUB
`,
			contains: []string{`@"Even?"`, `@"Odd?"`},
		},
		{
			name: "arrays",
			src: `SUB Main
  DIM A(3)
  LET A(1) = 10
  LET A(2) = 20
  LET A(3) = A(1) + A(2)
  PRINT A(3)
END SUB
`,
			contains: []string{"alloca double, i32 3", "getelementptr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, err := compiler.Build("test.bas", []byte(tt.src), runtime.Library())
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			printed := module.String()
			for _, want := range tt.contains {
				if !strings.Contains(printed, want) {
					t.Errorf("module does not contain %q", want)
				}
			}
			// The runtime was linked in, not just declared.
			if !strings.Contains(printed, "define void @bsq_number_print") {
				t.Error("runtime definitions missing from linked module")
			}
		})
	}
}

func TestMutualRecursionControlFlow(t *testing.T) {
	src := `SUB Main
  PRINT Even(4)
END SUB

SUB Even?(n)
  IF n = 0 THEN
    LET Even? = TRUE
  ELSE
    LET Even? = Odd(n - 1)
  END IF
END SUB

SUB Odd?(n)
  IF n = 0 THEN
    LET Odd? = FALSE
  ELSE
    LET Odd? = Even(n - 1)
  END IF
END SUB
`
	module, err := compiler.Build("test.bas", []byte(src), runtime.Library())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	for _, name := range []string{"Even?", "Odd?"} {
		var f *ir.Func
		for _, candidate := range module.Funcs {
			if candidate.Name() == name {
				f = candidate
			}
		}
		if f == nil {
			t.Fatalf("function %s not found", name)
		}

		// Entry, chain head, then, otherwise and end: exactly one
		// conditional branch, with both arms joining at the end block.
		var then, otherwise *ir.Block
		conditionals := 0
		for _, block := range f.Blocks {
			if block.Term == nil {
				t.Fatalf("block in %s has no terminator", name)
			}
			if succs := block.Term.Succs(); len(succs) == 2 {
				conditionals++
				then, otherwise = succs[0], succs[1]
			}
		}
		if conditionals != 1 {
			t.Fatalf("%s has %d conditional branches, want 1", name, conditionals)
		}

		thenSuccs := then.Term.Succs()
		otherwiseSuccs := otherwise.Term.Succs()
		if len(thenSuccs) != 1 || len(otherwiseSuccs) != 1 {
			t.Fatalf("%s arms must exit through exactly one branch", name)
		}
		if thenSuccs[0] == otherwise {
			t.Errorf("%s: then arm falls through into the otherwise arm", name)
		}
		if thenSuccs[0] != otherwiseSuccs[0] {
			t.Errorf("%s: both arms must branch to the same end block", name)
		}
	}
}

func TestBuildReportsTypeError(t *testing.T) {
	src := "SUB Main\nLET X = \"abc\" + 1\nEND SUB\n"
	_, err := compiler.Build("test.bas", []byte(src), runtime.Library())
	if !errors.Is(err, checker.ErrType) {
		t.Fatalf("expected a type check error, got %v", err)
	}
}

func TestBuildReportsSyntaxError(t *testing.T) {
	_, err := compiler.Build("test.bas", []byte("SUB Main\nLET = 1\nEND SUB\n"), runtime.Library())
	if !errors.Is(err, parser.ErrSyntax) {
		t.Fatalf("expected a syntax error, got %v", err)
	}
}

func TestCompileWritesModuleNextToSource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "hello.bas")
	if err := os.WriteFile(source, []byte("SUB Main\nPRINT \"hi\"\nEND SUB\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := compiler.Compile(source); err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hello.ll"))
	if err != nil {
		t.Fatalf("output module missing: %v", err)
	}
	if !strings.Contains(string(data), "define i32 @main()") {
		t.Error("output module has no entry point")
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct{ in, out string }{
		{"program.bas", "program.ll"},
		{filepath.Join("dir", "a.bas"), filepath.Join("dir", "a.ll")},
		{"noext", "noext.ll"},
	}
	for _, tt := range tests {
		if got := compiler.OutputPath(tt.in); got != tt.out {
			t.Errorf("OutputPath(%q) = %q, want %q", tt.in, got, tt.out)
		}
	}
}

func TestCompileTestdata(t *testing.T) {
	sources, err := filepath.Glob(filepath.Join("..", "..", "testdata", "*.bas"))
	if err != nil || len(sources) == 0 {
		t.Fatalf("no testdata programs found: %v", err)
	}

	dir := t.TempDir()
	for _, source := range sources {
		data, err := os.ReadFile(source)
		if err != nil {
			t.Fatal(err)
		}
		copied := filepath.Join(dir, filepath.Base(source))
		if err := os.WriteFile(copied, data, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := compiler.Compile(copied); err != nil {
			t.Errorf("%s: %v", filepath.Base(source), err)
		}
	}
}
