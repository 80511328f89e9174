// Package naming allocates the C identifiers of one generated program.
package naming

import (
	"fmt"
	"strings"
)

// ReservedPrefix starts every identifier the compiler invents for itself.
// Source programs cannot use it, so reserved names never collide.
const ReservedPrefix = "wp4_"

// Allocator hands out identifiers that are unique within one program.
// Every compilation owns one; it is not safe for concurrent use.
type Allocator struct {
	used map[string]struct{}
}

// NewAllocator returns an allocator that will never hand out any of taken.
func NewAllocator(taken ...string) *Allocator {
	a := &Allocator{used: make(map[string]struct{})}
	for _, n := range taken {
		a.Claim(n)
	}
	return a
}

// Claim marks name as used without allocating it.
func (a *Allocator) Claim(name string) {
	if _, ok := a.used[name]; ok {
		return
	}
	a.used[name] = struct{}{}
}

// Used reports whether name was claimed or allocated.
func (a *Allocator) Used(name string) bool {
	_, ok := a.used[name]
	return ok
}

// NewName returns base if it is free and otherwise the first free base_N.
func (a *Allocator) NewName(base string) string {
	base = Sanitize(base)
	name := base
	for i := 0; a.Used(name); i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	a.Claim(name)
	return name
}

// Reserved returns the compiler-owned spelling of name.
func Reserved(name string) string {
	return ReservedPrefix + name
}

// Sanitize replaces characters that are not valid in C identifiers.
func Sanitize(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			sb.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}
