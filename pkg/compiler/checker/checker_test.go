package checker_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/bsqlang/bsq/pkg/compiler/ast"
	"github.com/bsqlang/bsq/pkg/compiler/checker"
	"github.com/bsqlang/bsq/pkg/compiler/lexer"
	"github.com/bsqlang/bsq/pkg/compiler/parser"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	program, err := parser.New(lexer.NewScanner([]byte(src)), "test.bas").Parse()
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return program
}

func checkError(t *testing.T, src string) error {
	t.Helper()
	err := checker.Check(parse(t, src))
	if err == nil {
		t.Fatal("expected a type check error")
	}
	if !errors.Is(err, checker.ErrType) {
		t.Fatalf("error does not wrap ErrType: %v", err)
	}
	return err
}

func TestOperandTypeMismatch(t *testing.T) {
	err := checkError(t, "SUB Main\nLET X = \"abc\" + 1\nEND SUB\n")
	if !strings.Contains(err.Error(), "different types") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestDisallowedOperators(t *testing.T) {
	tests := []string{
		"SUB Main\nLET X = 1 AND 2\nEND SUB\n",
		"SUB Main\nLET X$ = \"a\" - \"b\"\nEND SUB\n",
		"SUB Main\nLET B? = TRUE + FALSE\nEND SUB\n",
		"SUB Main\nLET X = 1 & 2\nEND SUB\n",
	}
	for _, src := range tests {
		checkError(t, src)
	}
}

func TestConditionsMustBeBoolean(t *testing.T) {
	checkError(t, "SUB Main\nIF 1 THEN\nPRINT 1\nEND IF\nEND SUB\n")
	checkError(t, "SUB Main\nWHILE 0\nPRINT 1\nEND WHILE\nEND SUB\n")
}

func TestForRules(t *testing.T) {
	checkError(t, "SUB Main\nFOR I$ = \"a\" TO \"b\"\nPRINT 1\nEND FOR\nEND SUB\n")
	checkError(t, "SUB Main\nFOR I = 1 TO 10 STEP 0\nPRINT 1\nEND FOR\nEND SUB\n")
	checkError(t, "SUB Main\nLET B? = TRUE\nFOR I = B? TO 10\nPRINT 1\nEND FOR\nEND SUB\n")
}

func TestDimSize(t *testing.T) {
	checkError(t, "SUB Main\nDIM A(0)\nEND SUB\n")
	checkError(t, "SUB Main\nDIM A(2.5)\nEND SUB\n")
}

func TestMainTakesNoParameters(t *testing.T) {
	err := checkError(t, "SUB Main(a)\nPRINT a\nEND SUB\n")
	if !strings.Contains(err.Error(), "Main") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestCallAgreement(t *testing.T) {
	t.Run("arity", func(t *testing.T) {
		checkError(t, `
SUB Main
  CALL F 1, 2
END SUB

SUB F(a)
  PRINT a
END SUB
`)
	})

	t.Run("parameter type", func(t *testing.T) {
		checkError(t, `
SUB Main
  CALL F 1
END SUB

SUB F(a$)
  PRINT a$
END SUB
`)
	})

	t.Run("not a function", func(t *testing.T) {
		err := checkError(t, `
SUB Main
  LET X = P()
END SUB

SUB P
  PRINT 1
END SUB
`)
		if !strings.Contains(err.Error(), "not a function") {
			t.Errorf("unexpected message: %v", err)
		}
	})

	t.Run("plain call to procedure is fine", func(t *testing.T) {
		src := `
SUB Main
  CALL P
END SUB

SUB P
  PRINT 1
END SUB
`
		if err := checker.Check(parse(t, src)); err != nil {
			t.Fatalf("check failed: %v", err)
		}
	})
}

func TestItemRules(t *testing.T) {
	checkError(t, "SUB Main\nDIM A(3)\nLET B? = TRUE\nLET A(B?) = 1\nEND SUB\n")
	checkError(t, "SUB Main\nDIM A(3)\nLET A(1) = \"text\"\nEND SUB\n")
}

func TestApplyArgumentsAreTyped(t *testing.T) {
	// A compound argument gets its type inferred before the parameter
	// comparison; mutual recursion relies on it.
	src := `
SUB Main
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
	if err := checker.Check(parse(t, src)); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	program := parse(t, `
SUB Main
  DIM A(3)
  LET A(1) = 10
  LET A(2) = 20
  LET A(3) = A(1) + A(2)
  PRINT A(3)
END SUB
`)

	if err := checker.Check(program); err != nil {
		t.Fatalf("first check failed: %v", err)
	}
	if err := checker.Check(program); err != nil {
		t.Fatalf("second check reported: %v", err)
	}
}

func TestAssignmentTypeAgreement(t *testing.T) {
	checkError(t, "SUB Main\nLET X = \"text\"\nEND SUB\n")
	checkError(t, "SUB Main\nLET X$ = 1\nEND SUB\n")

	src := "SUB Main\nLET X$ = \"text\"\nLET Y = 1\nLET B? = TRUE\nEND SUB\n"
	if err := checker.Check(parse(t, src)); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}
