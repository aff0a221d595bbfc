package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleRecord(id, url string) RequestRecord {
	return RequestRecord{
		ID:         id,
		URL:        url,
		Method:     "GET",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		StatusCode: 402,
		ResponseHeaders: []HeaderPair{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "WWW-Authenticate", Value: "x402"},
		},
		IsX402: true,
		Source: "interceptor",
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	st, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := st.Append(sampleRecord("a", "https://shop.example/a")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := st.Append(sampleRecord("b", "https://shop.example/b")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := st.SetDisplayMode(true); err != nil {
		t.Fatalf("SetDisplayMode() error = %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() reopen error = %v", err)
	}
	if got := reopened.Count(); got != 2 {
		t.Fatalf("Count() = %d; want 2", got)
	}
	rec, ok := reopened.Get("a")
	if !ok {
		t.Fatal("record a missing after reopen")
	}
	if rec.URL != "https://shop.example/a" {
		t.Fatalf("URL = %q", rec.URL)
	}
	if len(rec.ResponseHeaders) != 2 {
		t.Fatalf("len(ResponseHeaders) = %d; want 2", len(rec.ResponseHeaders))
	}
	if !reopened.DisplayMode() {
		t.Fatal("DisplayMode() = false after reopen; want true")
	}
}

func TestStoreReplaceKeepsPosition(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := st.Append(sampleRecord(id, "https://shop.example/"+id)); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}

	updated := sampleRecord("b", "https://shop.example/b")
	updated.ResponseBody = `{"x402Version":1}`
	if err := st.Replace("b", updated); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	recs := st.All()
	if recs[1].ID != "b" || recs[1].ResponseBody == "" {
		t.Fatalf("record b not replaced in place: %+v", recs[1])
	}
}

func TestStoreReplaceUnknownIDFails(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := st.Replace("nope", sampleRecord("nope", "x")); err == nil {
		t.Fatal("expected error replacing unknown id")
	}
}

func TestStoreDelete(t *testing.T) {
	st, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := st.Append(sampleRecord("a", "https://shop.example/a")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := st.Delete("a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := st.Count(); got != 0 {
		t.Fatalf("Count() = %d; want 0", got)
	}
	if err := st.Delete("a"); err == nil {
		t.Fatal("expected error deleting missing id")
	}
}

func TestStoreToleratesCorruptRequestsFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requests.json"), []byte("{corrupt"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	st, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v; want corrupt file treated as empty", err)
	}
	if got := st.Count(); got != 0 {
		t.Fatalf("Count() = %d; want 0", got)
	}
}

func TestHeaderLookupIsCaseInsensitive(t *testing.T) {
	rec := sampleRecord("a", "https://shop.example/a")
	if _, ok := rec.Header("www-authenticate"); !ok {
		t.Fatal("lowercase lookup failed")
	}
	if _, ok := rec.Header("X-Missing"); ok {
		t.Fatal("missing header reported present")
	}
}
