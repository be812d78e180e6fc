package op

import (
	"strconv"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &Op{
		Kind:      CPut,
		Row:       "row1",
		Col:       "col1",
		NewValue:  []byte("new"),
		CurrValue: []byte("curr"),
		RequestID: "client-1-1-1",
		LockID:    NoLock,
	}

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Kind != original.Kind || decoded.Row != original.Row ||
		decoded.Col != original.Col || string(decoded.NewValue) != string(original.NewValue) ||
		string(decoded.CurrValue) != string(original.CurrValue) ||
		decoded.RequestID != original.RequestID || decoded.LockID != original.LockID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestIDGeneratorUniqueAndOrdered(t *testing.T) {
	gen := &IDGenerator{ClientID: 42}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.Next()
		if seen[id] {
			t.Fatalf("duplicate request id: %s", id)
		}
		seen[id] = true

		parts := strings.Split(id, "-")
		if len(parts) != 4 {
			t.Fatalf("request id %q does not have 4 dash-separated parts", id)
		}
		if parts[0] != "42" {
			t.Fatalf("request id %q does not carry client id 42", id)
		}
		if parts[2] != strconv.Itoa(i+1) {
			t.Fatalf("request id %q does not carry txn id %d", id, i+1)
		}
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Get:          "GET",
		Put:          "PUT",
		CPut:         "CPUT",
		Delete:       "DELETE",
		SetNX:        "SETNX",
		Del:          "DEL",
		GetAllRows:   "GETALLROWS",
		GetColsInRow: "GETCOLSINROW",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
