package emit

import (
	"testing"
)

func TestBlockIndentation(t *testing.T) {
	var b Builder
	b.Append("void f() ")
	b.BlockStart()
	b.Line("x = %d;", 1)
	b.EmitIndent()
	b.Append("if (x) ")
	b.BlockStart()
	b.Line("return;")
	b.BlockEnd(true)
	b.BlockEnd(true)

	want := "void f() {\n    x = 1;\n    if (x) {\n        return;\n    }\n}\n"
	if got := b.String(); got != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", got, want)
	}
	if b.Depth() != 0 {
		t.Fatalf("expected balanced indentation, depth %d", b.Depth())
	}
}

func TestUnbalancedIndentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unbalanced block end")
		}
	}()
	var b Builder
	b.BlockEnd(false)
}
