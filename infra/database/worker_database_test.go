package database

import "testing"

func TestOpen_SQLite(t *testing.T) {
	db, err := Open(Options{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var n int
	if err := db.Get(&n, "SELECT 1 + 1"); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 2 {
		t.Errorf("got %d, want 2", n)
	}
	if got := db.Rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("Rebind = %q, want question bindvars", got)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
