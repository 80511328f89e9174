package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestStandardErrorFormat(t *testing.T) {
	err := Unsupported("match kind lpm")
	if err.Category != CategoryEntity || err.Code != "UNSUPPORTED" {
		t.Fatalf("unexpected category/code: %s/%s", err.Category, err.Code)
	}
	if !strings.Contains(err.Error(), "match kind lpm not supported") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !strings.Contains(err.Caller, "TestStandardErrorFormat") {
		t.Fatalf("caller should name the test function, got %q", err.Caller)
	}
}

func TestIsWrapped(t *testing.T) {
	wrapped := fmt.Errorf("lowering table fwd: %w", NotOnTarget("const entries"))
	if !Is(wrapped, CategoryPolicy) {
		t.Fatal("wrapped policy error not recognised")
	}
	if Is(wrapped, CategoryEntity) {
		t.Fatal("policy error matched the entity category")
	}
}

func TestBugRecover(t *testing.T) {
	err := func() (err error) {
		defer func() { err = Recover(recover()) }()
		BugCheck(1+1 == 3, "arithmetic is broken: %d", 2)
		return nil
	}()
	if !Is(err, CategoryInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("foreign panics must be re-raised")
		}
	}()
	_ = Recover("not ours")
}
