package infra

import (
	"errors"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	marker, body, err := ExtractMarker("\n--sql 2f1d7c4e-6a0b-4c39-9a57-8d1e0b3f6c21\nselect 1;\n")
	if err != nil {
		t.Fatalf("ExtractMarker returned error: %v", err)
	}
	if marker != "2f1d7c4e-6a0b-4c39-9a57-8d1e0b3f6c21" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarkedQuery(t *testing.T) {
	_, _, err := ExtractMarker("select 1;")
	if !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("err = %v, want ErrMissingMarker", err)
	}
}
