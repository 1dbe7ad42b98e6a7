package textutil

import "testing"

func TestNormalize(t *testing.T) {
	got := Normalize("  Volleyball\n\tPickup   @ V1 ")
	want := "volleyball pickup @ v1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestContainsAny(t *testing.T) {
	text := Normalize("Tuesday Open  Play: advanced")
	if !ContainsAny(text, []string{"pickup", "open play"}) {
		t.Fatal("expected keyword hit")
	}
	if ContainsAny(text, []string{"waitlist"}) {
		t.Fatal("unexpected keyword hit")
	}
}
