package codegen

import (
	"strings"
	"testing"

	"github.com/orizon-lang/wp4c/internal/ir"
)

// singleHeader builds a program whose parser extracts one header named f
// and accepts.
func singleHeader(fields ...func(b *ir.Builder) ir.Field) *ir.Program {
	b := ir.NewBuilder("single.p4")
	fs := make([]ir.Field, len(fields))
	for i, f := range fields {
		fs[i] = f(b)
	}
	h := b.Header("h_t", fs...)
	hdrs := b.Struct("headers_t", ir.F("f", h))

	pkt, hp := ir.Param{Name: "p"}, ir.Param{Name: "hdr", Type: hdrs}
	b.Parser("prs", pkt, hp)
	b.State(ir.StateStart, ir.Goto(ir.StateAccept),
		ir.Do(b.Extract(b.Arg("prs", 0, pkt), b.Member(b.Arg("prs", 1, hp), "f"))))
	b.Pipeline("ingress", ir.Param{Name: "h", Type: hdrs})
	b.Deparser("dep", ir.Param{Name: "p"}, ir.Param{Name: "h", Type: hdrs})
	return b.Program()
}

func bits(name string, w int) func(b *ir.Builder) ir.Field {
	return func(b *ir.Builder) ir.Field { return ir.F(name, b.Bits(w)) }
}

func TestExtractFieldLoads(t *testing.T) {
	tests := []struct {
		name string
		prog *ir.Program
		want []string
	}{
		{
			name: "byte aligned 48 bits",
			prog: singleHeader(bits("dst", 48), bits("type", 16)),
			want: []string{
				"if (wp4_ul_size < BYTES(wp4_packetOffsetInBits + 64)) {",
				"memcpy(&wp4_tmp64, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 8);",
				"(htonll(wp4_tmp64) >> 16)",
				"WP4_MASK(u64, 48)",
				"wp4_packetOffsetInBits += 48;",
				"memcpy(&wp4_tmp16, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 2);",
				"hdr.f.type = (u16)htons(wp4_tmp16);",
				"wp4_packetOffsetInBits += 16;",
				"hdr.f.wp4_valid = 1;",
			},
		},
		{
			name: "13 bits at alignment 3",
			prog: singleHeader(
				func(b *ir.Builder) ir.Field { return ir.F("flag", b.Bool()) },
				bits("pad", 2), bits("v", 13)),
			want: []string{
				"memcpy(&wp4_tmp8, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 1);",
				"((wp4_tmp8 >> 7) & WP4_MASK(u8, 1))",
				"((wp4_tmp8 >> 5) & WP4_MASK(u8, 2))",
				"memcpy(&wp4_tmp16, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 2);",
				"(htons(wp4_tmp16) & WP4_MASK(u16, 13))",
			},
		},
		{
			name: "tail load at the end of the header",
			prog: singleHeader(bits("lo", 4), bits("v", 20)),
			want: []string{
				"wp4_tmp32 = 0;",
				"memcpy((u8 *)&wp4_tmp32 + 1, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 3);",
				"(htonl(wp4_tmp32) & WP4_MASK(u32, 20))",
			},
		},
		{
			name: "61 bits spanning nine bytes",
			prog: singleHeader(bits("x", 4), bits("y", 61), bits("z", 7)),
			want: []string{
				"hdr.f.x = (u8)((wp4_tmp8 >> 4) & WP4_MASK(u8, 4));",
				"wp4_packetOffsetInBits += 4;",
				"memcpy(&wp4_tmp64, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 8);",
				"memcpy(&wp4_tmp8, wp4_packetStart + BYTES(wp4_packetOffsetInBits) + 8, 1);",
				"hdr.f.y = (u64)(((htonll(wp4_tmp64) & WP4_MASK(u64, 60)) << 1) | (u64)(wp4_tmp8 >> 7));",
				"wp4_packetOffsetInBits += 61;",
				"hdr.f.z = (u8)(wp4_tmp8 & WP4_MASK(u8, 7));",
			},
		},
		{
			name: "signed 64 bits spanning nine bytes",
			prog: singleHeader(bits("x", 4), func(b *ir.Builder) ir.Field { return ir.F("y", b.Int(64)) }, bits("z", 4)),
			want: []string{
				"memcpy(&wp4_tmp8, wp4_packetStart + BYTES(wp4_packetOffsetInBits) + 8, 1);",
				"hdr.f.y = (s64)(((htonll(wp4_tmp64) & WP4_MASK(u64, 60)) << 4) | (u64)(wp4_tmp8 >> 4));",
			},
		},
		{
			name: "signed field",
			prog: singleHeader(
				func(b *ir.Builder) ir.Field { return ir.F("x", b.Int(4)) },
				bits("y", 4)),
			want: []string{
				"hdr.f.x = (s8)((s8)((u8)((wp4_tmp8 >> 4) & WP4_MASK(u8, 4)) << 4) >> 4);",
			},
		},
		{
			name: "wide field",
			prog: singleHeader(bits("addr", 128)),
			want: []string{
				"memcpy(hdr.f.addr, wp4_packetStart + BYTES(wp4_packetOffsetInBits), 16);",
				"wp4_packetOffsetInBits += 128;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			art := compile(t, tt.prog)
			inOrder(t, art.Source, tt.want...)
		})
	}
}

func TestExtractDeclaresOnlyUsedTemporaries(t *testing.T) {
	art := compile(t, singleHeader(bits("a", 8), bits("b", 8)))
	if !strings.Contains(art.Source, "u8 wp4_tmp8;") {
		t.Fatalf("missing byte temporary:\n%s", art.Source)
	}
	for _, unused := range []string{"wp4_tmp16;", "wp4_tmp32;", "wp4_tmp64;"} {
		if strings.Contains(art.Source, unused) {
			t.Fatalf("unused temporary %q declared", unused)
		}
	}
}

func TestTraceFollowsTarget(t *testing.T) {
	art := compile(t, singleHeader(bits("a", 8)))
	if !strings.Contains(art.Source, `printk("** WP4: hdr.f.a = %u **\n", (unsigned int)hdr.f.a);`) {
		t.Fatalf("missing field trace:\n%s", art.Source)
	}
}

func TestSelect(t *testing.T) {
	f := newFixture()
	art := compile(t, f.b.Program())
	inOrder(t, art.Source,
		"start: {",
		"/* p.extract(hdr.eth) */",
		"switch (hdr.eth.type) {",
		"case 0x800: goto parse_ipv4;",
		"default: goto accept;",
		"parse_ipv4: {",
		"goto accept;",
		"reject: {")
	if strings.Contains(art.Source, "default: goto reject;") {
		t.Fatal("explicit default must replace the reject default")
	}
}

func TestSelectWithoutDefaultRejects(t *testing.T) {
	f := newFixture()
	prog := f.b.Program()
	st := &prog.Parser.States[0]
	st.Transition.Cases = st.Transition.Cases[:1]

	art := compile(t, prog)
	inOrder(t, art.Source, "case 0x800: goto parse_ipv4;", "default: goto reject;")
}

func TestMaskedSelectIsAChain(t *testing.T) {
	f := newFixture()
	prog := f.b.Program()
	st := &prog.Parser.States[0]
	st.Transition.Cases[0].Keyset = f.b.Mask(f.b.Hex(0x800, f.b.Bits(16)), f.b.Hex(0xff00, f.b.Bits(16)))

	art := compile(t, prog)
	inOrder(t, art.Source,
		"if (((hdr.eth.type) & (0xff00)) == ((0x800) & (0xff00))) goto parse_ipv4;",
		"goto accept;")
	if strings.Contains(art.Source, "switch (hdr.eth.type)") {
		t.Fatal("masked select lowered to a switch")
	}
}

func TestSelectOnTupleIsUnsupported(t *testing.T) {
	f := newFixture()
	prog := f.b.Program()
	st := &prog.Parser.States[0]
	st.Transition.Select = append(st.Transition.Select, f.b.Path(f.parsed, "eth", "dst"))

	art, diags, err := compileCollect(t, prog)
	if err == nil || art != nil {
		t.Fatal("expected the build to fail")
	}
	d := findCode(diags, "E2001")
	if d == nil || !strings.Contains(d.Message, "select on 2 expressions") {
		t.Fatalf("expected an unsupported diagnostic, got %+v", diags)
	}
}

func TestLookaheadRestoresOffset(t *testing.T) {
	f := newFixture()
	prog := f.b.Program()
	st := &prog.Parser.States[1]
	st.Components = append([]ir.Stmt{
		ir.Assign(f.b.Member(f.parsed, "ipv4"), f.b.Lookahead(f.pkt, f.ipv4)),
	}, st.Components...)

	art := compile(t, prog)
	inOrder(t, art.Source,
		"parse_ipv4: {",
		"wp4_packetOffsetInBits_save = wp4_packetOffsetInBits;",
		"hdr.ipv4.wp4_valid = 1;",
		"wp4_packetOffsetInBits = wp4_packetOffsetInBits_save;",
		"/* p.extract(hdr.ipv4) */")
}

func TestVerifyRejects(t *testing.T) {
	f := newFixture()
	prog := f.b.Program()
	st := &prog.Parser.States[1]
	ver := f.b.Path(f.parsed, "ipv4", "version")
	st.Components = append(st.Components,
		ir.Do(f.b.Extern("verify", f.b.Binary("==", ver, f.b.Const(4, f.b.Bits(4))))))

	art := compile(t, prog)
	if !strings.Contains(art.Source, "if (!((hdr.ipv4.version == 4))) goto reject;") {
		t.Fatalf("missing verify:\n%s", art.Source)
	}
}
