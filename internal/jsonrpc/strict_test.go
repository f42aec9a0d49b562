package jsonrpc

import (
	"strings"
	"testing"
)

type probeStruct struct {
	Name      string `json:"name"`
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

func TestStrictUnmarshalRejectsDuplicateKeys(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"name and Name", `{"name":"legitimate","Name":"smuggled"}`},
		{"method and METHOD", `{"method":"tools/call","METHOD":"secret"}`},
		{"nested object", `{"name":"test","arguments":{"key":"value","Key":"smuggled"}}`},
		{"triple case variant", `{"name":"a","Name":"b","NAME":"c"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got probeStruct
			err := StrictUnmarshal([]byte(tt.json), &got)
			if err == nil {
				t.Fatalf("expected error, got nil (decoded %+v)", got)
			}
			if !strings.Contains(err.Error(), "duplicate key with different case") {
				t.Errorf("error = %v, want duplicate key message", err)
			}
		})
	}
}

func TestStrictUnmarshalRejectsFieldCaseMismatch(t *testing.T) {
	tests := []struct{ name, json string }{
		{"Name instead of name", `{"Name":"test"}`},
		{"METHOD instead of method", `{"METHOD":"tools/call"}`},
		{"one right one wrong", `{"name":"test","METHOD":"tools/call"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got probeStruct
			err := StrictUnmarshal([]byte(tt.json), &got)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), "field name case mismatch") {
				t.Errorf("error = %v, want case mismatch message", err)
			}
		})
	}
}

func TestStrictUnmarshalRejectsUnknownFields(t *testing.T) {
	var got probeStruct
	err := StrictUnmarshal([]byte(`{"name":"test","unexpected":"value"}`), &got)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "unknown field") {
		t.Errorf("error = %v, want unknown field message", err)
	}
}

func TestStrictUnmarshalAllowsValid(t *testing.T) {
	var got probeStruct
	if err := StrictUnmarshal([]byte(`{"name":"greet","method":"tools/call"}`), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "greet" || got.Method != "tools/call" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeRequestRejectsSmuggledDuplicateParam(t *testing.T) {
	attack := `{
		"jsonrpc": "2.0",
		"id": 1,
		"method": "tools/call",
		"params": {"name": "greet"},
		"Params": {"name": "secretTool"}
	}`
	_, err := DecodeRequest([]byte(attack))
	if err == nil {
		t.Fatal("expected error for case-variant duplicate of a known field, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate key") {
		t.Errorf("error = %v, want duplicate key message", err)
	}
}

func TestRejectUnknownTopLevelKeys(t *testing.T) {
	attack := `{"jsonrpc":"2.0","id":1,"method":"ping","stowaway":"value"}`
	if err := rejectUnknownTopLevelKeys([]byte(attack), requestWireFields); err == nil {
		t.Fatal("expected an error for an unrecognized top-level field")
	}

	ok := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}`
	if err := rejectUnknownTopLevelKeys([]byte(ok), requestWireFields); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJSONFieldNames(t *testing.T) {
	type probe struct {
		Field1 string `json:"field1"`
		Field2 int    `json:"field2,omitempty"`
		Field3 bool   `json:"-"`
		Field4 string
	}
	names := jsonFieldNames(&probe{})
	want := map[string]bool{"field1": true, "field2": true}
	if len(names) != len(want) {
		t.Fatalf("got %d fields, want %d (%v)", len(names), len(want), names)
	}
	for n := range want {
		if !names[n] {
			t.Errorf("missing expected field %q", n)
		}
	}
	if names["Field3"] || names["Field4"] || names["field4"] {
		t.Error("should not include untagged or dash-tagged fields")
	}
}
