package utils

import (
	"testing"
	"time"
)

func TestParseYMD(t *testing.T) {
	want := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-02-09", "2026-2-9", "2026-02-9"} {
		got, err := ParseYMD(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("ParseYMD(%q) = %v, %v", in, got, err)
		}
	}
	for _, in := range []string{"2026/02/09", "2026-13-01", "tomorrow", ""} {
		if _, err := ParseYMD(in); err == nil {
			t.Fatalf("ParseYMD(%q) should fail", in)
		}
	}
}

func TestStructRoundTrip(t *testing.T) {
	type rec struct {
		Seat string `json:"seat"`
		N    int    `json:"n"`
	}
	s, err := ToStruct(rec{Seat: "10车08排B号\n10车08排A号", N: 2})
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	if s.Fields["seat"].GetStringValue() != "10车08排B号\n10车08排A号" {
		t.Fatalf("seat = %v", s.Fields["seat"])
	}
	var back rec
	if err := FromStruct(s, &back); err != nil || back.N != 2 {
		t.Fatalf("from struct = %+v, %v", back, err)
	}
	if _, err := ToStruct([]int{1}); err == nil {
		t.Fatalf("non-object should fail")
	}
	if StrOrEmpty(nil) != "" {
		t.Fatalf("StrOrEmpty(nil)")
	}
}
