package canonjson

import "testing"

func TestMarshalOrdersKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	encA, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	encB, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}

	if string(encA) != string(encB) {
		t.Fatalf("expected identical encodings, got %q and %q", encA, encB)
	}
	if string(encA) != `{"a":2,"b":1,"c":3}` {
		t.Fatalf("unexpected encoding: %s", encA)
	}
}

func TestMarshalNested(t *testing.T) {
	v := map[string]any{
		"id":   "rec-1",
		"tags": []any{"z", "a"},
		"meta": map[string]any{"z": 1, "a": 2},
	}
	enc, err := Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(enc) != `{"id":"rec-1","meta":{"a":2,"z":1},"tags":["z","a"]}` {
		t.Fatalf("unexpected encoding: %s", enc)
	}
}
