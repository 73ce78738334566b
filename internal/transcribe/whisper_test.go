package transcribe

import "testing"

func TestParseOutput(t *testing.T) {
	data := []byte(`{"text": "  Guten Morgen zusammen.  ", "language": "de", "segments": []}`)

	res, err := ParseOutput(data)
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if res.Text != "Guten Morgen zusammen." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "de" {
		t.Errorf("Language = %q", res.Language)
	}
}

func TestParseOutputInvalidJSON(t *testing.T) {
	if _, err := ParseOutput([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseOutputEmptyText(t *testing.T) {
	res, err := ParseOutput([]byte(`{"text": "", "language": "en"}`))
	if err != nil {
		t.Fatalf("ParseOutput: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
}
