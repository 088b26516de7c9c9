package session

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoginLogoutPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")

	s, err := NewStore(path, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Authenticated() {
		t.Fatal("new store should not be authenticated")
	}

	u, err := s.Login("  ada@example.com ")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("email = %q", u.Email)
	}

	reloaded, err := NewStore(path, testLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cur, ok := reloaded.Current()
	if !ok || cur.Email != "ada@example.com" {
		t.Fatalf("reloaded session = %+v, %v", cur, ok)
	}

	if err := reloaded.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("session file still present: %v", err)
	}
	if err := reloaded.Logout(); err != nil {
		t.Errorf("second Logout: %v", err)
	}
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	s, _ := NewStore("", testLogger())

	for _, email := range []string{"", "plainaddress", "Ada <ada@example.com>", "@example.com"} {
		if _, err := s.Login(email); !errors.Is(err, ErrInvalidEmail) {
			t.Errorf("Login(%q) err = %v, want ErrInvalidEmail", email, err)
		}
	}
	if s.Authenticated() {
		t.Error("invalid login authenticated the store")
	}
}

func TestOnChange(t *testing.T) {
	s, _ := NewStore("", testLogger())

	var got []bool
	s.OnChange(func(authenticated bool) { got = append(got, authenticated) })

	if _, err := s.Login("bob@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.Logout(); err != nil {
		t.Fatal(err)
	}
	if err := s.Logout(); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("notifications = %v, want [true false]", got)
	}
}

func TestCorruptSessionFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path, testLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Authenticated() {
		t.Error("corrupt file should not authenticate")
	}
}
