package codegen

import (
	"strings"
	"testing"

	"github.com/orizon-lang/wp4c/internal/diagnostic"
	"github.com/orizon-lang/wp4c/internal/ir"
)

func TestTableTypes(t *testing.T) {
	f := newFixture()
	f.forwardTable(nil)
	art := compile(t, f.b.Program())

	inOrder(t, art.Header,
		"struct fwd_key {",
		"u64 field0_exact; /* h.eth.dst */",
		"};",
		"enum fwd_actions {",
		"fwd_set_port,",
		"fwd_drop,",
		"wp4_NoAction,",
		"};",
		"struct fwd_value {",
		"enum fwd_actions action;",
		"union {",
		"struct {",
		"u8 port;",
		"} set_port;",
		"} u;",
		"struct fwd_table {",
		"u32 max_entries;",
		"struct fwd_key key[65535];",
		"u64 flow_counters[65535];",
		"int fwd_add_entry(const struct fwd_key *key, const struct fwd_value *value);",
		"void fwd_set_default(const struct fwd_value *value);")
	inOrder(t, art.Source,
		"static struct fwd_table fwd = {",
		".max_entries = 65535,",
		"static struct fwd_value fwd_defaultAction;",
		"static void wp4_init_tables(void)",
		"fwd_defaultAction.action = fwd_set_port;",
		"fwd_defaultAction.u.set_port.port = 3;")
}

func TestImplicitNoAction(t *testing.T) {
	f := newFixture()
	tbl := f.forwardTable(nil)
	tbl.Actions = []string{"set_port"}
	tbl.Default = nil

	art := compile(t, f.b.Program())
	inOrder(t, art.Header, "enum fwd_actions {", "fwd_set_port,", "wp4_NoAction,", "};")
	if !strings.Contains(art.Source, "fwd_defaultAction.action = wp4_NoAction;") {
		t.Fatalf("default action not loaded:\n%s", art.Source)
	}
}

func TestKeyFieldOrder(t *testing.T) {
	build := func() *Artifacts {
		f := newFixture()
		tbl := f.forwardTable(nil)
		b := f.b
		tbl.Keys = []ir.KeyElement{
			{Expr: b.Member(f.metaArg, "input_port"), MatchKind: ir.MatchExact},
			{Expr: b.Path(f.hdr, "eth", "dst"), MatchKind: ir.MatchExact},
			{Expr: b.Path(f.hdr, "eth", "type"), MatchKind: ir.MatchMin},
			{Expr: b.Member(f.metaArg, "output_port"), MatchKind: ir.MatchMax},
		}
		return compile(t, b.Program())
	}

	art := build()
	inOrder(t, art.Header,
		"struct fwd_key {",
		"u64 field1_exact; /* h.eth.dst */",
		"u16 field2_min; /* h.eth.type */",
		"u8 field0_exact; /* meta.input_port */",
		"u8 field3_max; /* meta.output_port */",
		"};")
	inOrder(t, art.Source,
		"wp4_key.field1_exact = hdr.eth.dst;",
		"wp4_key.field2_min = hdr.eth.type;",
		"wp4_key.field0_exact = meta.input_port;",
		"wp4_key.field3_max = meta.output_port;")

	if again := build(); again.Header != art.Header || again.Source != art.Source {
		t.Fatal("key layout differs between builds")
	}
}

func TestLookupMatchesFirstEntry(t *testing.T) {
	f := newFixture()
	tbl := f.forwardTable(nil)
	tbl.Keys = append(tbl.Keys, ir.KeyElement{Expr: f.b.Path(f.hdr, "eth", "type"), MatchKind: ir.MatchMin})
	tbl.Keys = append(tbl.Keys, ir.KeyElement{Expr: f.b.Member(f.metaArg, "input_port"), MatchKind: ir.MatchMax})

	art := compile(t, f.b.Program())
	inOrder(t, art.Source,
		"struct fwd_value *fwd_lookup(const struct fwd_key *probe)",
		"for (i = 0; i < fwd.last_entry && i < 65535; i++) {",
		"const struct fwd_key *entry = &fwd.key[i];",
		"if (entry->field0_exact != probe->field0_exact) continue;",
		"if (probe->field1_min < entry->field1_min) continue;",
		"if (probe->field2_max > entry->field2_max) continue;",
		"fwd.flow_counters[i]++;",
		"return &fwd.value[i];",
		"return &fwd_defaultAction;",
		"int fwd_add_entry(",
		"if (fwd.last_entry >= 65535)",
		"return -1;")
}

func TestWideKeyComparesBytes(t *testing.T) {
	b := ir.NewBuilder("v6.p4")
	ip6 := b.Header("ipv6_t", ir.F("dst", b.Bits(128)))
	hdrs := b.Struct("headers_t", ir.F("ip6", ip6))
	b.Parser("prs", ir.Param{Name: "p"}, ir.Param{Name: "hdr", Type: hdrs})
	b.State(ir.StateStart, ir.Goto(ir.StateAccept))
	hp := ir.Param{Name: "h", Type: hdrs}
	ctl := b.Pipeline("ingress", hp)
	b.Action("hit_it", nil)
	ctl.Tables = []ir.Table{{
		Name:    "routes",
		Keys:    []ir.KeyElement{{Expr: b.Path(b.Arg("ingress", 0, hp), "ip6", "dst"), MatchKind: ir.MatchExact}},
		Actions: []string{"hit_it"},
	}}
	ctl.Body = []ir.Stmt{ir.Do(b.Apply(b.TableRef("ingress", "routes")))}
	b.Deparser("dep", ir.Param{Name: "p"}, ir.Param{Name: "h", Type: hdrs})

	art := compile(t, b.Program())
	if !strings.Contains(art.Header, "u8 field0_exact[16]; /* h.ip6.dst */") {
		t.Fatalf("wide key not an array:\n%s", art.Header)
	}
	inOrder(t, art.Source,
		"if (memcmp(entry->field0_exact, probe->field0_exact, 16) != 0) continue;",
		"memcpy(wp4_key.field0_exact, hdr.ip6.dst, 16);")

	ctl.Tables[0].Keys[0].MatchKind = ir.MatchMin
	_, diags, err := compileCollect(t, b.Program())
	if err == nil || findCode(diags, "E2001") == nil {
		t.Fatalf("expected a min match on a wide key to fail, got %+v", diags)
	}
}

func TestTableSize(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		want     string
		code     string
		class    diagnostic.Class
		produced bool
	}{
		{name: "explicit", size: 1024, want: ".max_entries = 1024,", produced: true},
		{name: "zero", size: 0, code: "E2002", class: diagnostic.EntityFatal},
		{name: "negative", size: -3, code: "E2002", class: diagnostic.EntityFatal},
		{name: "too large", size: 70000, want: ".max_entries = 65535,", code: "E4001", class: diagnostic.Recoverable, produced: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.forwardTable(ir.Size(tt.size))
			art, diags, err := compileCollect(t, f.b.Program())

			if tt.produced != (err == nil) {
				t.Fatalf("produced = %v, err = %v", err == nil, err)
			}
			if tt.produced && !strings.Contains(art.Source, tt.want) {
				t.Fatalf("missing %q", tt.want)
			}
			if tt.code == "" {
				if len(diags) != 0 {
					t.Fatalf("unexpected diagnostics %+v", diags)
				}
				return
			}
			d := findCode(diags, tt.code)
			if d == nil || d.Class != tt.class {
				t.Fatalf("expected %s of class %v, got %+v", tt.code, tt.class, diags)
			}
			if tt.code == "E2002" && (len(d.Notes) != 1 || !strings.Contains(d.Notes[0], "1 to 65535")) {
				t.Fatalf("unexpected notes %q", d.Notes)
			}
		})
	}
}

func TestConstTablePropertiesNotOnTarget(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, tbl *ir.Table)
	}{
		{"const default_action", func(f *fixture, tbl *ir.Table) { tbl.Default.Const = true }},
		{"const entries", func(f *fixture, tbl *ir.Table) {
			tbl.Entries = []ir.Entry{{
				Keys:   []ir.ExprID{f.b.Hex(0x1, f.b.Bits(48))},
				Action: ir.ActionCall{Action: "drop"},
			}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f, f.forwardTable(nil))
			art, diags, err := compileCollect(t, f.b.Program())
			if err == nil || art != nil {
				t.Fatal("expected the build to fail")
			}
			d := findCode(diags, "E3001")
			if d == nil || d.Class != diagnostic.Policy || !strings.Contains(d.Message, tt.name) {
				t.Fatalf("expected a policy rejection of %s, got %+v", tt.name, diags)
			}
		})
	}
}

func TestUnsupportedMatchKind(t *testing.T) {
	f := newFixture()
	tbl := f.forwardTable(nil)
	tbl.Keys[0].MatchKind = "lpm"

	_, diags, err := compileCollect(t, f.b.Program())
	if err == nil {
		t.Fatal("expected the build to fail")
	}
	d := findCode(diags, "E2001")
	if d == nil || d.Class != diagnostic.EntityFatal || !strings.Contains(d.Message, "Match of type lpm") {
		t.Fatalf("expected an unsupported match kind, got %+v", diags)
	}
}

func TestTableNamesDoNotCollide(t *testing.T) {
	f := newFixture()
	f.forwardTable(nil)
	// A user type already owns the name the key struct would get.
	f.b.Struct("fwd_key", ir.F("x", f.u8))

	art := compile(t, f.b.Program())
	if !strings.Contains(art.Header, "struct fwd_key_0 {") {
		t.Fatalf("key struct not renamed:\n%s", art.Header)
	}
}
