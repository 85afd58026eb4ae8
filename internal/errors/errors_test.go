// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package errors

import (
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := E(Op("rdb.ReadGroup"), Unavailable, fmt.Errorf("connection refused"))
	want := "UNAVAILABLE: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	e := err.(*Error)
	if got := e.DebugString(); got != "rdb.ReadGroup: UNAVAILABLE: connection refused" {
		t.Errorf("DebugString() = %q", got)
	}
}

func TestCanonicalCode(t *testing.T) {
	if got := CanonicalCode(nil); got != Unspecified {
		t.Errorf("CanonicalCode(nil) = %v", got)
	}
	if got := CanonicalCode(fmt.Errorf("plain")); got != Unspecified {
		t.Errorf("CanonicalCode(plain) = %v", got)
	}
	err := E(Op("outer"), E(Op("inner"), NotFound, "missing"))
	if got := CanonicalCode(err); got != NotFound {
		t.Errorf("CanonicalCode(nested) = %v, want NotFound", got)
	}
}

func TestUnwrapChain(t *testing.T) {
	inner := New("inner")
	err := E(Op("op"), Internal, inner)
	if !Is(err, inner) {
		t.Error("Is() failed to find the wrapped error")
	}
}

func TestEPanicsWithoutArgs(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("E() did not panic")
		}
	}()
	E()
}
