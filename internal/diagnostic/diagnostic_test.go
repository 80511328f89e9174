package diagnostic

import (
	"strings"
	"testing"

	"github.com/orizon-lang/wp4c/internal/position"
)

func TestBuilderDefaults(t *testing.T) {
	d := NewDiagnostic().Error().Code("E9").Title("t").Build()
	if d.Class != EntityFatal {
		t.Fatalf("errors default to entity-fatal, got %s", d.Class)
	}
	w := NewDiagnostic().Warning().Build()
	if w.Class != Recoverable || w.Class.Blocking() {
		t.Fatalf("warnings must be recoverable, got %s", w.Class)
	}
}

func TestEngineBlocking(t *testing.T) {
	de := NewDiagnosticEngine(DefaultConfig())
	de.Report(Common.Fallback(position.Span{}, DiagnosticTable, "table fwd", "size too large"))
	if !de.HasErrors() {
		t.Fatal("recoverable error should still count as an error")
	}
	if de.Blocking() {
		t.Fatal("recoverable error must not block output")
	}

	de.Report(Common.NotOnTarget(position.Span{}, DiagnosticTable, "table fwd", "const entries"))
	if !de.Blocking() {
		t.Fatal("policy rejection must block output")
	}
}

func TestEngineIgnoreNeverDropsBlocking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IgnoreCodes = []string{"E2001", "W1"}
	de := NewDiagnosticEngine(cfg)
	de.Report(Common.Unsupported(position.Span{}, DiagnosticTable, "k", "match kind lpm"))
	de.Report(NewDiagnostic().Warning().Code("W1").Build())
	if len(de.GetDiagnostics()) != 1 {
		t.Fatalf("expected only the blocking error to survive, got %d", len(de.GetDiagnostics()))
	}
}

func TestEngineMaxErrors(t *testing.T) {
	de := NewDiagnosticEngine(DiagnosticConfig{MaxErrors: 2})
	for i := 0; i < 5; i++ {
		de.Report(Common.Unsupported(position.Span{}, DiagnosticParser, "x", "thing"))
	}
	errs := de.GetErrors()
	if len(errs) != 3 {
		t.Fatalf("expected 2 errors plus truncation marker, got %d", len(errs))
	}
	if errs[2].Code != "E0001" {
		t.Fatalf("last diagnostic should be the truncation marker, got %s", errs[2].Code)
	}
}

func TestFormatDiagnostics(t *testing.T) {
	de := NewDiagnosticEngine(DefaultConfig())
	d := Common.Unsupported(position.At("prog.p4", 12, 3), DiagnosticTable, "hdr.ipv4.dst: lpm", "Match of type lpm")
	d.Notes = append(d.Notes, "supported kinds: exact, min, max")
	de.Report(d)
	de.Report(NewDiagnostic().Warning().Code("W2").Title("early").Span(position.At("prog.p4", 2, 1)).Build())

	out := de.FormatDiagnostics()
	for _, want := range []string{
		"prog.p4:12:3: error[E2001]: Unsupported construct",
		"in: hdr.ipv4.dst: lpm",
		"note: supported kinds: exact, min, max",
		"1 error(s), 1 warning(s)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "W2") > strings.Index(out, "E2001") {
		t.Fatalf("diagnostics not sorted by position:\n%s", out)
	}
}
