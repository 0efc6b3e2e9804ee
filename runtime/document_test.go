package runtime

import "testing"

func TestDocument_AppendAndReplace(t *testing.T) {
	d := NewDocument(ResumeDedupe)
	d.Append("abc", "")
	d.Append("def", "")

	if d.String() != "abcdef" {
		t.Fatalf("expected abcdef, got %q", d.String())
	}
	if d.Epoch() != 0 {
		t.Errorf("expected epoch 0, got %d", d.Epoch())
	}

	// Extension keeps the epoch.
	d.Replace("abcdefghi")
	if d.String() != "abcdefghi" || d.Epoch() != 0 {
		t.Errorf("extension: got %q epoch %d", d.String(), d.Epoch())
	}

	// A different document bumps the epoch.
	d.Replace("<html></html>")
	if d.String() != "<html></html>" || d.Epoch() != 1 {
		t.Errorf("replacement: got %q epoch %d", d.String(), d.Epoch())
	}
	if d.Len() != len("<html></html>") {
		t.Errorf("unexpected len %d", d.Len())
	}
}

func TestDocument_DedupeByChunkID(t *testing.T) {
	d := NewDocument(ResumeDedupe)
	if !d.Append("a", "c1") {
		t.Fatal("first delta should apply")
	}
	if !d.Append("b", "c2") {
		t.Fatal("second delta should apply")
	}
	// Resent after a reconnect.
	if d.Append("b", "c2") {
		t.Error("duplicate chunk id should be dropped")
	}
	if !d.Append("c", "") {
		t.Error("delta without chunk id should apply")
	}
	if d.String() != "abc" {
		t.Errorf("expected abc, got %q", d.String())
	}
}

func TestDocument_TrustAppendsEverything(t *testing.T) {
	d := NewDocument(ResumeTrust)
	d.Append("a", "c1")
	d.Append("a", "c1")
	if d.String() != "aa" {
		t.Errorf("expected aa, got %q", d.String())
	}
}

func TestParseResumePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ResumePolicy
		wantErr bool
	}{
		{"", ResumeDedupe, false},
		{"dedupe", ResumeDedupe, false},
		{"TRUST", ResumeTrust, false},
		{"hash", "", true},
	}
	for _, tt := range tests {
		got, err := ParseResumePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseResumePolicy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseResumePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
