// Package layout maps IR types to the C representation used by the packet
// module: bit widths, byte-rounded implementation widths, declarations and
// zero initializers.
//
// Scalars up to 64 bits become native kernel integer types (u8..u64,
// s8..s64); wider scalars become byte arrays kept in network order. Header
// structs carry an extra u8 wp4_valid member that is not part of the
// header's semantic width.
package layout

import (
	"fmt"

	"github.com/orizon-lang/wp4c/internal/emit"
	"github.com/orizon-lang/wp4c/internal/errors"
	"github.com/orizon-lang/wp4c/internal/ir"
)

// ValidField is the implicit validity member of every header struct.
const ValidField = "wp4_valid"

// EnumWidth is the storage width of enumerations.
const EnumWidth = 32

// RoundUp rounds width up to a multiple of unit.
func RoundUp(width, unit int) int {
	return (width + unit - 1) / unit * unit
}

// BytesRequired returns the number of bytes needed to hold width bits.
func BytesRequired(width int) int {
	return RoundUp(width, 8) / 8
}

// GeneratesScalar reports whether a width maps to a native register type.
func GeneratesScalar(width int) bool {
	return width <= 64
}

// ContainerWidth returns the native type width used to store width bits.
func ContainerWidth(width int) int {
	switch {
	case width <= 8:
		return 8
	case width <= 16:
		return 16
	case width <= 32:
		return 32
	default:
		return 64
	}
}

// FieldLayout is one member of a struct-like descriptor.
type FieldLayout struct {
	Name string
	Desc *Descriptor
	// Offset is the semantic bit offset from the start of the struct.
	Offset int
	// Source is the field type as written, used in comments.
	Source string
}

// Descriptor is the layout of one IR type.
type Descriptor struct {
	Type      ir.TypeID
	Kind      ir.TypeKind
	Name      string
	Signed    bool
	Fields    []FieldLayout
	Elem      *Descriptor
	Size      int
	Canonical *Descriptor
	Members   []string

	width     int
	implWidth int
}

// WidthInBits is the semantic width.
func (d *Descriptor) WidthInBits() int {
	return d.width
}

// ImplementationWidthInBits is the width of the generated storage, always a
// multiple of 8 and never smaller than the semantic width.
func (d *Descriptor) ImplementationWidthInBits() int {
	return d.implWidth
}

// IsStructLike reports whether the descriptor has named fields.
func (d *Descriptor) IsStructLike() bool {
	k := d.Resolve().Kind
	return k == ir.TypeStruct || k == ir.TypeHeader || k == ir.TypeHeaderUnion
}

// IsScalar reports whether values live in a native integer register.
func (d *Descriptor) IsScalar() bool {
	r := d.Resolve()
	switch r.Kind {
	case ir.TypeBool, ir.TypeEnum:
		return true
	case ir.TypeBits:
		return GeneratesScalar(r.width)
	}
	return false
}

// IsWide reports whether the descriptor is a scalar stored as a byte array.
func (d *Descriptor) IsWide() bool {
	r := d.Resolve()
	return r.Kind == ir.TypeBits && !GeneratesScalar(r.width)
}

// Resolve strips typedefs.
func (d *Descriptor) Resolve() *Descriptor {
	for d.Kind == ir.TypeTypedef {
		d = d.Canonical
	}
	return d
}

// Field returns the named field of a struct-like descriptor.
func (d *Descriptor) Field(name string) *FieldLayout {
	r := d.Resolve()
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

func scalarName(signed bool, width int) string {
	prefix := "u"
	if signed {
		prefix = "s"
	}
	return fmt.Sprintf("%s%d", prefix, ContainerWidth(width))
}

// EnumMember is the C constant naming one member of an enumeration.
func (d *Descriptor) EnumMember(member string) string {
	return d.Resolve().Name + "_" + member
}

// Emit writes the type name.
func (d *Descriptor) Emit(b *emit.Builder) {
	switch d.Kind {
	case ir.TypeBool:
		b.Append("u8")
	case ir.TypeBits:
		if GeneratesScalar(d.width) {
			b.Append(scalarName(d.Signed, d.width))
		} else {
			b.Append("u8*")
		}
	case ir.TypeStruct, ir.TypeHeader:
		b.Appendf("struct %s", d.Name)
	case ir.TypeHeaderUnion:
		b.Appendf("union %s", d.Name)
	case ir.TypeEnum:
		b.Appendf("enum %s", d.Name)
	case ir.TypeTypedef:
		b.Append(d.Name)
	case ir.TypeStack:
		d.Elem.Emit(b)
		b.Append("*")
	default:
		errors.Bug("layout: unexpected type kind %s", d.Kind)
	}
}

// TypeName returns what Emit writes.
func (d *Descriptor) TypeName() string {
	var b emit.Builder
	d.Emit(&b)
	return b.String()
}

// Declare writes a declaration of id with this type, without terminator.
func (d *Descriptor) Declare(b *emit.Builder, id string, asPointer bool) {
	switch d.Kind {
	case ir.TypeBits:
		if !GeneratesScalar(d.width) {
			if asPointer {
				b.Appendf("u8* %s", id)
			} else {
				b.Appendf("u8 %s[%d]", id, BytesRequired(d.width))
			}
			return
		}
	case ir.TypeStack:
		d.Elem.DeclareArray(b, id, d.Size)
		return
	}

	d.Emit(b)
	if asPointer {
		b.Append("*")
	}
	b.Appendf(" %s", id)
}

// HasArraySyntax reports whether DeclareArray can use native C array syntax.
func (d *Descriptor) HasArraySyntax() bool {
	return d.Kind != ir.TypeStack
}

// DeclareArray declares id as n elements of this type. Elements without
// native array syntax are declared n times as id_0 .. id_{n-1}; the caller
// terminates the last declaration.
func (d *Descriptor) DeclareArray(b *emit.Builder, id string, n int) {
	if !d.HasArraySyntax() {
		for i := 0; i < n; i++ {
			if i > 0 {
				b.Append("; ")
			}
			d.Declare(b, fmt.Sprintf("%s_%d", id, i), false)
		}
		return
	}
	if d.Kind == ir.TypeBits && !GeneratesScalar(d.width) {
		b.Appendf("u8 %s[%d][%d]", id, n, BytesRequired(d.width))
		return
	}
	d.Emit(b)
	b.Appendf(" %s[%d]", id, n)
}

// EmitInitializer writes a zero initializer. Header validity flags are
// always cleared.
func (d *Descriptor) EmitInitializer(b *emit.Builder) {
	switch d.Kind {
	case ir.TypeBool, ir.TypeEnum:
		b.Append("0")
	case ir.TypeBits:
		if GeneratesScalar(d.width) {
			b.Append("0")
		} else {
			b.Append("{ 0 }")
		}
	case ir.TypeHeader:
		b.Appendf("{ .%s = 0 }", ValidField)
	case ir.TypeStruct:
		if len(d.Fields) == 0 {
			b.Append("{ 0 }")
			return
		}
		b.Append("{ ")
		for i, f := range d.Fields {
			if i > 0 {
				b.Append(", ")
			}
			emitFieldInitializer(b, f.Name, f.Desc)
		}
		b.Append(" }")
	case ir.TypeHeaderUnion:
		// Only one union member can be initialized; the widest covers every byte.
		if w := d.widestField(); w != nil {
			b.Append("{ ")
			emitFieldInitializer(b, w.Name, w.Desc)
			b.Append(" }")
		} else {
			b.Append("{ 0 }")
		}
	case ir.TypeStack:
		if d.Elem.HasArraySyntax() {
			b.Append("{ ")
			for i := 0; i < d.Size; i++ {
				if i > 0 {
					b.Append(", ")
				}
				d.Elem.EmitInitializer(b)
			}
			b.Append(" }")
		} else {
			errors.Bug("layout: initializer for stack of %s", d.Elem.Kind)
		}
	case ir.TypeTypedef:
		d.Canonical.EmitInitializer(b)
	default:
		errors.Bug("layout: unexpected type kind %s", d.Kind)
	}
}

// DeclareZeroed writes complete, indented declaration lines of id with a
// zero initializer.
func (d *Descriptor) DeclareZeroed(b *emit.Builder, id string) {
	if d.Kind == ir.TypeStack && !d.Elem.HasArraySyntax() {
		for i := 0; i < d.Size; i++ {
			d.Elem.DeclareZeroed(b, fmt.Sprintf("%s_%d", id, i))
		}
		return
	}
	b.EmitIndent()
	d.Declare(b, id, false)
	b.Append(" = ")
	d.EmitInitializer(b)
	b.EndOfStatement(true)
}

// emitFieldInitializer writes a designated initializer for one member,
// expanding stacks that were declared as repeated members.
func emitFieldInitializer(b *emit.Builder, name string, d *Descriptor) {
	if d.Kind == ir.TypeStack && !d.Elem.HasArraySyntax() {
		for i := 0; i < d.Size; i++ {
			if i > 0 {
				b.Append(", ")
			}
			emitFieldInitializer(b, fmt.Sprintf("%s_%d", name, i), d.Elem)
		}
		return
	}
	b.Appendf(".%s = ", name)
	d.EmitInitializer(b)
}

func (d *Descriptor) widestField() *FieldLayout {
	var widest *FieldLayout
	for i := range d.Fields {
		if widest == nil || d.Fields[i].Desc.implWidth > widest.Desc.implWidth {
			widest = &d.Fields[i]
		}
	}
	return widest
}

// EmitDefinition writes the C definition of a named type: a struct or union
// body, an enum body or a typedef. Anonymous types write nothing.
func (d *Descriptor) EmitDefinition(b *emit.Builder) {
	switch d.Kind {
	case ir.TypeStruct, ir.TypeHeader, ir.TypeHeaderUnion:
		b.EmitIndent()
		d.Emit(b)
		b.Spc()
		b.BlockStart()
		for _, f := range d.Fields {
			b.EmitIndent()
			f.Desc.Declare(b, f.Name, false)
			b.Appendf("; /* %s */", f.Source)
			b.Newline()
		}
		if d.Kind == ir.TypeHeader {
			b.EmitIndent()
			boolDescriptor.Declare(b, ValidField, false)
			b.EndOfStatement(true)
		}
		b.BlockEnd(false)
		b.EndOfStatement(true)
	case ir.TypeEnum:
		b.EmitIndent()
		d.Emit(b)
		b.Spc()
		b.BlockStart()
		for _, m := range d.Members {
			b.Line("%s,", d.EnumMember(m))
		}
		b.BlockEnd(false)
		b.EndOfStatement(true)
	case ir.TypeTypedef:
		b.EmitIndent()
		b.Append("typedef ")
		d.Canonical.Declare(b, d.Name, false)
		b.EndOfStatement(true)
	}
}

var boolDescriptor = &Descriptor{Kind: ir.TypeBool, width: 1, implWidth: 8}

// Engine creates descriptors for the types of one program. Descriptors are
// cached in a slice indexed by type ID. An Engine is not safe for
// concurrent use; every compilation owns its own.
type Engine struct {
	prog     *ir.Program
	cache    []*Descriptor
	failures []error
	building []bool
}

// NewEngine returns an engine for prog.
func NewEngine(prog *ir.Program) *Engine {
	return &Engine{
		prog:     prog,
		cache:    make([]*Descriptor, len(prog.Types)),
		failures: make([]error, len(prog.Types)),
		building: make([]bool, len(prog.Types)),
	}
}

// Create returns the descriptor of a type. Types without a fixed width
// (varbit, or aggregates containing one) produce an error of category
// ENTITY; callers report it and abandon the construct.
func (e *Engine) Create(id ir.TypeID) (*Descriptor, error) {
	t := e.prog.Type(id)
	if t == nil {
		errors.Bug("layout: unknown type %d", id)
	}
	i := int(id) - 1
	if d := e.cache[i]; d != nil {
		return d, nil
	}
	if err := e.failures[i]; err != nil {
		return nil, err
	}
	errors.BugCheck(!e.building[i], "layout: recursive type %s", e.prog.TypeString(id))

	e.building[i] = true
	d, err := e.create(id, t)
	e.building[i] = false

	if err != nil {
		e.failures[i] = err
		return nil, err
	}
	e.cache[i] = d
	return d, nil
}

func (e *Engine) create(id ir.TypeID, t *ir.Type) (*Descriptor, error) {
	d := &Descriptor{Type: id, Kind: t.Kind, Name: t.Name}

	switch t.Kind {
	case ir.TypeBool:
		d.width, d.implWidth = 1, 8
	case ir.TypeBits:
		d.Signed = t.Signed
		d.width, d.implWidth = t.Width, RoundUp(t.Width, 8)
	case ir.TypeVarbit:
		return nil, errors.NoFixedWidth(e.prog.TypeString(id))
	case ir.TypeStruct, ir.TypeHeader, ir.TypeHeaderUnion:
		for _, f := range t.Fields {
			fd, err := e.Create(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", t.Name, f.Name, err)
			}
			d.Fields = append(d.Fields, FieldLayout{
				Name:   f.Name,
				Desc:   fd,
				Offset: d.width,
				Source: e.prog.TypeString(f.Type),
			})
			if t.Kind == ir.TypeHeaderUnion {
				// Members overlap: the union is as wide as its widest member.
				d.width = max(d.width, fd.width)
				d.implWidth = max(d.implWidth, fd.implWidth)
				d.Fields[len(d.Fields)-1].Offset = 0
			} else {
				d.width += fd.width
				d.implWidth += fd.implWidth
			}
		}
	case ir.TypeStack:
		elem, err := e.Create(t.Elem)
		if err != nil {
			return nil, err
		}
		d.Elem, d.Size = elem, t.Size
		d.width, d.implWidth = t.Size*elem.width, t.Size*elem.implWidth
	case ir.TypeTypedef:
		canon, err := e.Create(t.Target)
		if err != nil {
			return nil, err
		}
		d.Canonical = canon
		d.Signed = canon.Signed
		d.width, d.implWidth = canon.width, canon.implWidth
	case ir.TypeEnum:
		d.Members = t.Members
		d.width, d.implWidth = EnumWidth, EnumWidth
	default:
		errors.Bug("layout: unexpected type kind %s", t.Kind)
	}

	return d, nil
}
