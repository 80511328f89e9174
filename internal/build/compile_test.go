package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orizon-lang/wp4c/internal/cli"
	"github.com/orizon-lang/wp4c/internal/errors"
	"github.com/orizon-lang/wp4c/internal/ir"
)

// writeProgram encodes a one-table program to dir/name.json. A non-nil
// size is used as the table size.
func writeProgram(t *testing.T, dir, name string, size *int64) string {
	t.Helper()
	b := ir.NewBuilder(name + ".p4")
	eth := b.Header("ethernet_t", ir.F("dst", b.Bits(48)), ir.F("src", b.Bits(48)), ir.F("type", b.Bits(16)))
	hdrs := b.Struct("headers_t", ir.F("eth", eth))

	pkt, hp := ir.Param{Name: "p"}, ir.Param{Name: "hdr", Type: hdrs}
	b.Parser("prs", pkt, hp)
	b.State(ir.StateStart, ir.Goto(ir.StateAccept),
		ir.Do(b.Extract(b.Arg("prs", 0, pkt), b.Member(b.Arg("prs", 1, hp), "eth"))))

	h := ir.Param{Name: "h", Type: hdrs}
	ctl := b.Pipeline("ingress", h)
	b.Action("drop", nil, ir.Do(b.Extern("mark_to_drop")))
	ctl.Tables = []ir.Table{{
		Name:    "filter",
		Keys:    []ir.KeyElement{{Expr: b.Path(b.Arg("ingress", 0, h), "eth", "type"), MatchKind: ir.MatchExact}},
		Actions: []string{"drop"},
		Size:    size,
	}}
	ctl.Body = []ir.Stmt{ir.Do(b.Apply(b.TableRef("ingress", "filter")))}

	dp, dh := ir.Param{Name: "p"}, ir.Param{Name: "h", Type: hdrs}
	dep := b.Deparser("dep", dp, dh)
	dep.Body = []ir.Stmt{ir.Do(b.Emit(b.Arg("dep", 0, dp), b.Member(b.Arg("dep", 1, dh), "eth")))}

	var buf bytes.Buffer
	if err := b.Program().Encode(&buf); err != nil {
		t.Fatal(err)
	}
	return writeTempFile(t, dir, name+".json", buf.String())
}

func newTestCompiler(out *bytes.Buffer) *Compiler {
	c := NewCompiler(nil, cli.NewLoggerTo(out, true, true))
	c.Workers = 2
	return c
}

func TestCompileAllWritesArtifacts(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	jobs := []Job{
		{Input: writeProgram(t, in, "one", nil)},
		{Input: writeProgram(t, in, "two", ir.Size(16))},
		{Input: writeProgram(t, in, "three", nil), Output: filepath.Join(out, "sub", "custom.c")},
	}

	var log bytes.Buffer
	c := newTestCompiler(&log)
	c.OutDir = out
	res, err := c.CompileAll(context.Background(), jobs)
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, log.String())
	}

	want := [][2]string{
		{filepath.Join(out, "one.c"), filepath.Join(out, "one.h")},
		{filepath.Join(out, "two.c"), filepath.Join(out, "two.h")},
		{filepath.Join(out, "sub", "custom.c"), filepath.Join(out, "sub", "custom.h")},
	}
	for i, r := range res {
		if r.Job != jobs[i] {
			t.Fatalf("result %d is for %+v", i, r.Job)
		}
		if r.SourcePath != want[i][0] || r.HeaderPath != want[i][1] {
			t.Fatalf("result %d paths %s %s", i, r.SourcePath, r.HeaderPath)
		}
		src, err := os.ReadFile(r.SourcePath)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(src), `#include "`+filepath.Base(r.HeaderPath)+`"`) {
			t.Fatalf("%s does not include its header", r.SourcePath)
		}
		if _, err := os.Stat(r.HeaderPath); err != nil {
			t.Fatal(err)
		}
	}

	src, _ := os.ReadFile(res[1].SourcePath)
	if !strings.Contains(string(src), ".max_entries = 16,") {
		t.Fatal("table size not honoured")
	}
	if !strings.Contains(log.String(), "[INFO]") {
		t.Fatalf("nothing logged: %q", log.String())
	}
}

func TestCompileAllWritesNothingOnBlockingDiagnostics(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	jobs := []Job{
		{Input: writeProgram(t, in, "good", nil)},
		{Input: writeProgram(t, in, "bad", ir.Size(0))},
		{Input: filepath.Join(in, "missing.json")},
	}

	var log bytes.Buffer
	c := newTestCompiler(&log)
	c.OutDir = out
	res, err := c.CompileAll(context.Background(), jobs)
	if err == nil || !errors.Is(err, errors.CategoryProgram) {
		t.Fatalf("expected a build failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 of 3 programs failed") {
		t.Fatalf("unexpected error %v", err)
	}

	if res[0].Err != nil {
		t.Fatalf("good program failed: %v", res[0].Err)
	}
	if res[1].Err == nil || len(res[1].Diagnostics) == 0 || res[1].Diagnostics[0].Code != "E2002" {
		t.Fatalf("bad program: err=%v diags=%+v", res[1].Err, res[1].Diagnostics)
	}
	if !errors.Is(res[2].Err, errors.CategoryIO) {
		t.Fatalf("missing input: %v", res[2].Err)
	}

	for _, name := range []string{"bad.c", "bad.h", "missing.c"} {
		if _, err := os.Stat(filepath.Join(out, name)); !os.IsNotExist(err) {
			t.Fatalf("%s written despite the failure", name)
		}
	}
}

func TestCompileAllUsesCache(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	jobs := []Job{{Input: writeProgram(t, in, "one", nil)}}

	var log bytes.Buffer
	c := newTestCompiler(&log)
	c.OutDir = out
	c.Cache = NewArtifactCache(8)

	first, err := c.CompileAll(context.Background(), jobs)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.CompileAll(context.Background(), jobs)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Cached || !second[0].Cached {
		t.Fatalf("cached flags: first=%v second=%v", first[0].Cached, second[0].Cached)
	}
	if st := c.Cache.Stats(); st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("unexpected cache stats %+v", st)
	}
	if !strings.Contains(log.String(), "cache hit") {
		t.Fatalf("cache hit not logged: %q", log.String())
	}

	// Renaming the output changes the included header name.
	jobs[0].Output = filepath.Join(out, "renamed.c")
	third, err := c.CompileAll(context.Background(), jobs)
	if err != nil {
		t.Fatal(err)
	}
	if third[0].Cached {
		t.Fatal("artifact reused for a different header name")
	}
}

func TestCompileAllHonoursCancellation(t *testing.T) {
	in := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCompiler(&bytes.Buffer{})
	c.OutDir = t.TempDir()
	res, err := c.CompileAll(ctx, []Job{{Input: writeProgram(t, in, "one", nil)}})
	if err != context.Canceled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if res[0].Err == nil {
		t.Fatal("job ran after cancellation")
	}
}

func TestTimestamp(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	c := newTestCompiler(&bytes.Buffer{})
	c.OutDir = out
	c.Timestamp = true
	res, err := c.CompileAll(context.Background(), []Job{{Input: writeProgram(t, in, "one", nil)}})
	if err != nil {
		t.Fatal(err)
	}
	src, _ := os.ReadFile(res[0].SourcePath)
	first := strings.SplitN(string(src), "\n", 2)[0]
	if !strings.HasPrefix(first, "/* Automatically generated by wp4c from one.p4 on ") {
		t.Fatalf("unexpected comment %q", first)
	}
}
