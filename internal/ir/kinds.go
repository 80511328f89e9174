package ir

import (
	"fmt"
)

var typeKindNames = []string{"bool", "bits", "varbit", "struct", "header", "header_union", "stack", "typedef", "enum"}

var exprKindNames = []string{"path", "member", "index", "const", "bool", "binary", "unary", "cast", "slice", "call", "default", "mask"}

var refKindNames = []string{"none", "local", "param", "table", "action", "type", "extern"}

var callKindNames = []string{"extern", "extract", "lookahead", "emit", "apply", "is_valid", "set_valid", "set_invalid", "action"}

var stmtKindNames = []string{"assign", "call", "if", "block", "switch", "return", "exit", "decl", "empty"}

var transitionKindNames = []string{"none", "goto", "select"}

func kindString[K ~uint8](k K, names []string) string {
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind[K ~uint8](text []byte, names []string, what string, k *K) error {
	s := string(text)
	for i, n := range names {
		if n == s {
			*k = K(i)
			return nil
		}
	}
	return fmt.Errorf("unknown %s kind %q", what, s)
}

func (k TypeKind) String() string { return kindString(k, typeKindNames) }

func (k TypeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TypeKind) UnmarshalText(b []byte) error { return parseKind(b, typeKindNames, "type", k) }

func (k ExprKind) String() string { return kindString(k, exprKindNames) }

func (k ExprKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ExprKind) UnmarshalText(b []byte) error { return parseKind(b, exprKindNames, "expression", k) }

func (k RefKind) String() string { return kindString(k, refKindNames) }

func (k RefKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RefKind) UnmarshalText(b []byte) error { return parseKind(b, refKindNames, "reference", k) }

func (k CallKind) String() string { return kindString(k, callKindNames) }

func (k CallKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CallKind) UnmarshalText(b []byte) error { return parseKind(b, callKindNames, "call", k) }

func (k StmtKind) String() string { return kindString(k, stmtKindNames) }

func (k StmtKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *StmtKind) UnmarshalText(b []byte) error { return parseKind(b, stmtKindNames, "statement", k) }

func (k TransitionKind) String() string { return kindString(k, transitionKindNames) }

func (k TransitionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TransitionKind) UnmarshalText(b []byte) error { return parseKind(b, transitionKindNames, "transition", k) }
