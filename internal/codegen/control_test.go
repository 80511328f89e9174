package codegen

import (
	"strings"
	"testing"

	"github.com/orizon-lang/wp4c/internal/ir"
)

func TestApplyDispatchesActions(t *testing.T) {
	f := newFixture()
	f.forwardTable(nil)
	art := compile(t, f.b.Program())

	inOrder(t, art.Source,
		"accept: {",
		"// fwd.apply()",
		"struct fwd_key wp4_key;",
		"struct fwd_value *wp4_value;",
		"memset(&wp4_key, 0, sizeof(wp4_key));",
		"wp4_key.field0_exact = hdr.eth.dst;",
		"wp4_value = fwd_lookup(&wp4_key);",
		"wp4_hit = wp4_value != &fwd_defaultAction;",
		"wp4_action_run = wp4_value->action;",
		"switch (wp4_value->action) {",
		"case fwd_set_port:",
		"meta.output_port = wp4_value->u.set_port.port;",
		"break;",
		"case fwd_drop:",
		"return 1;",
		"case wp4_NoAction:",
		"default:",
		"return 1;",
		"wp4_end: ;")
	if strings.Contains(art.Source, "meta.output_port = port;") {
		t.Fatal("action parameter read from the entry routine")
	}
}

func TestActionReturn(t *testing.T) {
	f := newFixture()
	b := f.b
	f.forwardTable(nil)
	prog := b.Program()
	prog.Actions[0].Body = []ir.Stmt{
		ir.If(b.Binary("==", b.Member(f.metaArg, "input_port"), b.Const(0, f.u8)), []ir.Stmt{ir.Return()}, nil),
		ir.Assign(b.Member(f.metaArg, "output_port"), b.Const(2, f.u8)),
		ir.Return(),
		ir.Assign(b.Member(f.metaArg, "input_port"), b.Const(9, f.u8)),
	}

	art := compile(t, prog)
	inOrder(t, art.Source,
		"case fwd_set_port:",
		"if ((meta.input_port == 0)) {",
		"break;",
		"}",
		"meta.output_port = 2;",
		"break;",
		"case fwd_drop:")
	if strings.Contains(art.Source, "meta.input_port = 9;") {
		t.Fatal("statement after return was emitted")
	}
}

func TestApplyResultsInConditions(t *testing.T) {
	f := newFixture()
	b := f.b
	f.forwardTable(nil)
	f.pipeline.Body = []ir.Stmt{
		ir.If(b.Member(b.Apply(b.TableRef("ingress", "fwd")), "hit"),
			[]ir.Stmt{ir.Assign(b.Member(f.metaArg, "output_port"), b.Const(1, f.u8))},
			[]ir.Stmt{ir.Exit()}),
	}

	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"// fwd.apply()",
		"wp4_value = fwd_lookup(&wp4_key);",
		"if (wp4_hit) {",
		"meta.output_port = 1;",
		"} else {",
		"goto wp4_end;",
		"}",
		"wp4_end: ;")
}

func TestConditionAppliesOneTableUpFront(t *testing.T) {
	tests := []struct {
		name string
		cond func(f *fixture) ir.ExprID
		want string
	}{
		{
			name: "two applications",
			cond: func(f *fixture) ir.ExprID {
				b := f.b
				return b.Binary("&&",
					b.Member(b.Apply(b.TableRef("ingress", "fwd")), "hit"),
					b.Member(b.Apply(b.TableRef("ingress", "fwd")), "miss"))
			},
			want: "2 table applications in one expression",
		},
		{
			name: "application after &&",
			cond: func(f *fixture) ir.ExprID {
				b := f.b
				return b.Binary("&&",
					b.Binary("==", b.Member(f.metaArg, "input_port"), b.Const(0, f.u8)),
					b.Member(b.Apply(b.TableRef("ingress", "fwd")), "hit"))
			},
			want: "right operand of && or ||",
		},
		{
			name: "application after ||",
			cond: func(f *fixture) ir.ExprID {
				b := f.b
				return b.Binary("||",
					b.BoolLit(true),
					b.Unary("!", b.Member(b.Apply(b.TableRef("ingress", "fwd")), "hit")))
			},
			want: "right operand of && or ||",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.forwardTable(nil)
			f.pipeline.Body = []ir.Stmt{
				ir.If(tt.cond(f), []ir.Stmt{ir.Exit()}, nil),
			}
			art, diags, err := compileCollect(t, f.b.Program())
			if err == nil || art != nil {
				t.Fatal("expected the build to fail")
			}
			d := findCode(diags, "E2001")
			if d == nil || !strings.Contains(d.Message, tt.want) {
				t.Fatalf("expected %q, got %+v", tt.want, diags)
			}
		})
	}

	// An application on the left of && still runs first.
	f := newFixture()
	b := f.b
	f.forwardTable(nil)
	f.pipeline.Body = []ir.Stmt{
		ir.If(b.Binary("&&",
			b.Member(b.Apply(b.TableRef("ingress", "fwd")), "hit"),
			b.Binary("==", b.Member(f.metaArg, "input_port"), b.Const(0, f.u8))),
			[]ir.Stmt{ir.Exit()}, nil),
	}
	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"// fwd.apply()",
		"wp4_hit = wp4_value != &fwd_defaultAction;",
		"if ((wp4_hit && (meta.input_port == 0))) {",
		"goto wp4_end;")
}

func TestSwitchOnActionRun(t *testing.T) {
	f := newFixture()
	b := f.b
	f.forwardTable(nil)
	f.pipeline.Body = []ir.Stmt{
		ir.Switch(b.Member(b.Apply(b.TableRef("ingress", "fwd")), "action_run"),
			ir.Case([]ir.Stmt{ir.Assign(b.Member(f.metaArg, "output_port"), b.Const(5, f.u8))}, "set_port"),
			ir.Case(nil, "drop"),
			ir.DefaultCase(ir.Exit())),
	}

	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"wp4_action_run = wp4_value->action;",
		"switch (wp4_action_run) {",
		"case fwd_set_port:",
		"meta.output_port = 5;",
		"break;",
		"case fwd_drop:",
		"default:",
		"goto wp4_end;",
		"break;",
		"}")

	f.pipeline.Body[0].Cases[0].Labels = []string{"no_such_action"}
	_, diags, err := compileCollect(t, b.Program())
	if err == nil || findCode(diags, "E2001") == nil {
		t.Fatalf("expected a switch label outside the table to fail, got %+v", diags)
	}
}

func TestInlineActionCall(t *testing.T) {
	f := newFixture()
	b := f.b
	f.pipeline.Body = []ir.Stmt{ir.Do(b.CallAction("set_port", b.Const(7, f.u8)))}

	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"// set_port(7)",
		"do {",
		"meta.output_port = (7);",
		"} while (0);")
}

func TestArithmeticWrapsToWidth(t *testing.T) {
	f := newFixture()
	b := f.b
	port := b.Member(f.metaArg, "output_port")
	f.pipeline.Body = []ir.Stmt{
		ir.Assign(port, b.Binary("+", port, b.Const(1, f.u8))),
		ir.Assign(port, b.Unary("~", port)),
		ir.Assign(port, b.Binary("&", port, b.Hex(0xf, f.u8))),
	}

	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"meta.output_port = ((meta.output_port + 1) & WP4_MASK(u8, 8));",
		"meta.output_port = ((~meta.output_port) & WP4_MASK(u8, 8));",
		"meta.output_port = (meta.output_port & 0xf);")
}

func TestWideValues(t *testing.T) {
	f := newFixture()
	b := f.b
	w := b.Bits(128)
	addr := b.Local("ingress", "addr", w)
	other := b.Local("ingress", "other", w)
	f.pipeline.Body = []ir.Stmt{
		ir.Declare("addr", w, ir.NoExpr),
		ir.Declare("other", w, ir.NoExpr),
		ir.Assign(addr, b.Hex(0x0102, w)),
		ir.Assign(other, addr),
		ir.If(b.Binary("!=", addr, other), []ir.Stmt{ir.Exit()}, nil),
	}

	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"u8 addr[16] = { 0 };",
		"u8 other[16] = { 0 };",
		"static const u8 wp4_c[16] = { 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02 };",
		"memcpy(addr, wp4_c, 16);",
		"memcpy(other, addr, 16);",
		"if ((memcmp(addr, other, 16) != 0)) {")

	f.pipeline.Body = append(f.pipeline.Body, ir.Assign(addr, b.Binary("+", addr, other)))
	_, diags, err := compileCollect(t, b.Program())
	if err == nil || findCode(diags, "E2001") == nil {
		t.Fatalf("expected wide arithmetic to fail, got %+v", diags)
	}
}

func TestEnumMembers(t *testing.T) {
	f := newFixture()
	b := f.b
	color := b.Enum("color_t", "RED", "GREEN")
	c := b.Local("ingress", "c", color)
	f.pipeline.Body = []ir.Stmt{
		ir.Declare("c", color, ir.NoExpr),
		ir.Assign(c, b.Member(b.TypeRef(color), "GREEN")),
		ir.If(b.Binary("==", c, b.Member(b.TypeRef(color), "RED")), []ir.Stmt{ir.Exit()}, nil),
	}

	art := compile(t, b.Program())
	inOrder(t, art.Header, "color_t_RED,", "color_t_GREEN,")
	inOrder(t, art.Source,
		"c = color_t_GREEN;",
		"if ((c == color_t_RED)) {",
		"goto wp4_end;")
}

func TestValidity(t *testing.T) {
	f := newFixture()
	b := f.b
	ipv4 := b.Member(f.hdr, "ipv4")
	f.pipeline.Body = []ir.Stmt{
		ir.If(b.IsValid(ipv4), []ir.Stmt{ir.Do(b.SetInvalid(ipv4))}, []ir.Stmt{ir.Do(b.SetValid(ipv4))}),
	}

	art := compile(t, b.Program())
	inOrder(t, art.Source,
		"if (hdr.ipv4.wp4_valid) {",
		"hdr.ipv4.wp4_valid = 0;",
		"} else {",
		"hdr.ipv4.wp4_valid = 1;")
}

func TestUnknownExternIsUnsupported(t *testing.T) {
	f := newFixture()
	f.pipeline.Body = []ir.Stmt{ir.Do(f.b.Extern("clone3"))}

	art, diags, err := compileCollect(t, f.b.Program())
	if err == nil || art != nil {
		t.Fatal("expected the build to fail")
	}
	if d := findCode(diags, "E2001"); d == nil || !strings.Contains(d.Message, "extern clone3") {
		t.Fatalf("expected an unsupported extern, got %+v", diags)
	}
}

func TestDeparserWritesValidHeaders(t *testing.T) {
	f := newFixture()
	art := compile(t, f.b.Program())

	inOrder(t, art.Source,
		"// Start of Deparser",
		"u8 wp4_out[34];",
		"u32 wp4_outOffsetInBits = 0;",
		"/* p.emit(h.eth) */",
		"if (hdr.eth.wp4_valid) {",
		"if (BYTES(wp4_outOffsetInBits) + 14 > sizeof(wp4_out))",
		"return 1;",
		"wp4_write_bits(wp4_out, wp4_outOffsetInBits, (u64)hdr.eth.dst, 48);",
		"wp4_outOffsetInBits += 48;",
		"/* p.emit(h.ipv4) */",
		"if (hdr.ipv4.wp4_valid) {",
		"wp4_deparse_end: ;",
		"u32 parsed = BYTES(wp4_packetOffsetInBits);",
		"u32 emitted = BYTES(wp4_outOffsetInBits);",
		"if (emitted + payload > wp4_ul_size)",
		"memmove(p_uc_data + emitted, p_uc_data + parsed, payload);",
		"memcpy(p_uc_data, wp4_out, emitted);",
		"return 0;")
}

func TestDeparserSharesPipelineMetadata(t *testing.T) {
	f := newFixture()
	b := f.b
	prog := b.Program()
	dep := prog.Deparser
	m := ir.Param{Name: "meta", Type: f.meta}
	dep.Params = append(dep.Params, m)
	dep.Body = append([]ir.Stmt{
		ir.If(b.Binary("==", b.Member(b.Arg("dep", 2, m), "output_port"), b.Const(0, f.u8)),
			[]ir.Stmt{ir.Return()}, nil),
	}, dep.Body...)

	art := compile(t, prog)
	if n := strings.Count(art.Source, "struct metadata_t meta = "); n != 1 {
		t.Fatalf("metadata declared %d times", n)
	}
	inOrder(t, art.Source,
		"// Start of Deparser",
		"if ((meta.output_port == 0)) {",
		"goto wp4_deparse_end;",
		"wp4_deparse_end: ;")

	dep.Params[2].Name = "dm"
	art = compile(t, prog)
	inOrder(t, art.Source,
		"// Start of Deparser",
		"struct metadata_t dm = { .input_port = 0, .output_port = 0 };")
}
