package chatlog

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs := []Message{
		{Time: base, Participant: User, Text: "what is that bird"},
		{Time: base.Add(time.Second), Participant: Assistant, Text: "a heron"},
		{Time: base.Add(2 * time.Second), Participant: Assistant, Text: "Photo could not be decoded", IsError: true},
	}
	for _, m := range msgs {
		if err := s.Put(m); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d messages, want 3", len(got))
	}
	if got[0].Text != "what is that bird" || got[0].Participant != User {
		t.Errorf("got[0] = %+v", got[0])
	}
	if !got[2].IsError {
		t.Error("error flag not round-tripped")
	}
	if got[0].ID == "" {
		t.Error("Put did not assign an ID")
	}
	if !got[1].Time.Equal(base.Add(time.Second)) {
		t.Errorf("Time = %v, want %v", got[1].Time, base.Add(time.Second))
	}
}

func TestRecentLimitKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	base := time.Now()
	for i, text := range []string{"one", "two", "three"} {
		s.Put(Message{Time: base.Add(time.Duration(i) * time.Second), Participant: User, Text: text})
	}
	got, err := s.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Errorf("Recent(2) = %+v", got)
	}
	if _, err := s.Recent(0); err == nil {
		t.Error("Recent(0) should fail")
	}
}

func TestTypingNotStored(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put(Message{Participant: Assistant, Typing: true}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Recent(10)
	if len(got) != 0 {
		t.Errorf("typing placeholder was stored: %+v", got)
	}
}

func TestPictureRoundTrip(t *testing.T) {
	s := openTestStore(t)
	png := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	s.Put(Message{Participant: Assistant, Text: "a heron", Picture: png})
	got, _ := s.Recent(1)
	if string(got[0].Picture) != string(png) {
		t.Errorf("Picture = %v, want %v", got[0].Picture, png)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	s.Put(Message{Participant: User, Text: "x"})
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Recent(10)
	if len(got) != 0 {
		t.Errorf("Recent after Clear = %+v", got)
	}
}

func TestOpenFilePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Put(Message{Participant: User, Text: "persisted"})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, _ := s.Recent(10)
	if len(got) != 1 || got[0].Text != "persisted" {
		t.Errorf("Recent after reopen = %+v", got)
	}
}
