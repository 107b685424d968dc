package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/script/internal/session"
)

// generateTime produces an arbitrary time.Time value.
// We truncate to second precision to match JSON round-trip fidelity.
func generateTime(t *rapid.T, label string) time.Time {
	sec := rapid.Int64Range(0, 1_700_000_000).Draw(t, label+"_unix_sec")
	return time.Unix(sec, 0).UTC()
}

// generateSession produces an arbitrary Session value.
func generateSession(t *rapid.T) *session.Session {
	s := session.New(generateTime(t, "start"), rapid.StringN(1, 100, -1).Draw(t, "work_dir"))
	s.Shell = rapid.SampledFrom([]string{"/bin/sh", "/bin/bash", "/usr/bin/zsh"}).Draw(t, "shell")
	s.Command = rapid.StringN(0, 80, -1).Draw(t, "command")
	s.TimingFormat = rapid.SampledFrom([]string{"", "classic", "advanced"}).Draw(t, "timing_format")
	s.OutputBytes = rapid.Uint64().Draw(t, "output_bytes")
	s.InputBytes = rapid.Uint64().Draw(t, "input_bytes")
	s.LimitReached = rapid.Bool().Draw(t, "limit_reached")

	if rapid.Bool().Draw(t, "has_stop_time") {
		st := generateTime(t, "stop")
		s.StopTime = &st
	}
	if rapid.Bool().Draw(t, "has_exit_code") {
		code := rapid.IntRange(0, 255).Draw(t, "exit_code")
		s.ExitCode = &code
	}

	roles := []string{session.LogTranscript, session.LogInput, session.LogOutput, session.LogIO, session.LogTiming}
	for _, role := range roles {
		if rapid.Bool().Draw(t, "has_"+role) {
			s.Logs = append(s.Logs, session.LogFile{Role: role, Path: rapid.StringN(1, 60, -1).Draw(t, role+"_path")})
		}
	}
	return s
}

func newStore(t *testing.T) session.SessionStore {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	store, err := session.NewSessionStore()
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	return store
}

// Feature: script, Property: history record persistence round-trip
func TestSessionPersistenceRoundTrip(t *testing.T) {
	store := newStore(t)

	rapid.Check(t, func(t *rapid.T) {
		original := generateSession(t)

		if err := store.Save(original); err != nil {
			t.Fatalf("Save: %v", err)
		}
		loaded, err := store.Load(original.ID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}

		if loaded.ID != original.ID {
			t.Errorf("ID mismatch: got %q, want %q", loaded.ID, original.ID)
		}
		if !loaded.StartTime.Equal(original.StartTime) {
			t.Errorf("StartTime mismatch: got %v, want %v", loaded.StartTime, original.StartTime)
		}
		if loaded.WorkDir != original.WorkDir || loaded.Shell != original.Shell || loaded.Command != original.Command {
			t.Errorf("context mismatch: got %+v, want %+v", loaded, original)
		}
		if loaded.OutputBytes != original.OutputBytes || loaded.InputBytes != original.InputBytes {
			t.Errorf("byte counts mismatch: got %d/%d, want %d/%d",
				loaded.OutputBytes, loaded.InputBytes, original.OutputBytes, original.InputBytes)
		}
		if loaded.LimitReached != original.LimitReached || loaded.TimingFormat != original.TimingFormat {
			t.Errorf("flags mismatch: got %+v, want %+v", loaded, original)
		}

		if (loaded.StopTime == nil) != (original.StopTime == nil) {
			t.Errorf("StopTime nil mismatch: got %v, want %v", loaded.StopTime, original.StopTime)
		} else if loaded.StopTime != nil && !loaded.StopTime.Equal(*original.StopTime) {
			t.Errorf("StopTime mismatch: got %v, want %v", *loaded.StopTime, *original.StopTime)
		}
		if (loaded.ExitCode == nil) != (original.ExitCode == nil) {
			t.Errorf("ExitCode nil mismatch: got %v, want %v", loaded.ExitCode, original.ExitCode)
		} else if loaded.ExitCode != nil && *loaded.ExitCode != *original.ExitCode {
			t.Errorf("ExitCode mismatch: got %d, want %d", *loaded.ExitCode, *original.ExitCode)
		}

		if len(loaded.Logs) != len(original.Logs) {
			t.Fatalf("Logs length mismatch: got %d, want %d", len(loaded.Logs), len(original.Logs))
		}
		for i, l := range original.Logs {
			if loaded.Logs[i] != l {
				t.Errorf("Logs[%d] mismatch: got %+v, want %+v", i, loaded.Logs[i], l)
			}
			if got := loaded.Log(l.Role); got != l.Path {
				t.Errorf("Log(%q): got %q, want %q", l.Role, got, l.Path)
			}
		}
	})
}

func TestLoadReturnsErrNoSession(t *testing.T) {
	store := newStore(t)

	for _, id := range []string{"missing", "", "../escape"} {
		_, err := store.Load(id)
		if !errors.Is(err, session.ErrNoSession) {
			t.Errorf("Load(%q): expected ErrNoSession, got: %v", id, err)
		}
	}
}

func TestLoadResolvesUniquePrefix(t *testing.T) {
	store := newStore(t)
	for _, id := range []string{"abc123", "abd456", "xyz789"} {
		if err := store.Save(&session.Session{ID: id, StartTime: time.Now()}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	s, err := store.Load("x")
	if err != nil {
		t.Fatalf("Load(prefix): %v", err)
	}
	if s.ID != "xyz789" {
		t.Errorf("Load(prefix): got %q, want %q", s.ID, "xyz789")
	}

	if _, err := store.Load("ab"); !errors.Is(err, session.ErrAmbiguousID) {
		t.Errorf("Load(ambiguous): expected ErrAmbiguousID, got: %v", err)
	}
	if s, err := store.Load("abc123"); err != nil || s.ID != "abc123" {
		t.Errorf("Load(full): got %v, %v", s, err)
	}
}

func TestListNewestFirstAndSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := session.NewSessionStoreAt(dir)
	if err != nil {
		t.Fatalf("NewSessionStoreAt: %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		if err := store.Save(&session.Session{ID: id, StartTime: base.Add(offsets[i])}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := store.List()
	if err == nil {
		t.Error("expected an error describing the corrupt record")
	}
	var got []string
	for _, s := range list {
		got = append(got, s.ID)
	}
	want := []string{"newest", "middle", "old"}
	if len(got) != len(want) {
		t.Fatalf("List: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List: got %v, want %v", got, want)
		}
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	store := newStore(t)
	s := session.New(time.Now(), "/tmp")
	if err := store.Save(s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(s.ShortID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(s.ID); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("expected ErrNoSession after delete, got: %v", err)
	}
	if err := store.Delete(s.ID); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("Delete(missing): expected ErrNoSession, got: %v", err)
	}
}

func TestDuration(t *testing.T) {
	start := time.Now()
	s := session.New(start, "/")
	if s.Duration() != 0 {
		t.Errorf("Duration without stop: got %v", s.Duration())
	}
	stop := start.Add(90 * time.Second)
	s.StopTime = &stop
	if s.Duration() != 90*time.Second {
		t.Errorf("Duration: got %v, want 1m30s", s.Duration())
	}
}

// TestSaveFailurePropagatesError verifies that creating a store in an
// unwritable directory fails.
func TestSaveFailurePropagatesError(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root; permission checks are ineffective")
	}

	tmp := t.TempDir()
	if err := os.Chmod(tmp, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(tmp, 0o755) })

	t.Setenv("XDG_DATA_HOME", tmp)
	if _, err := session.NewSessionStore(); err == nil {
		t.Fatal("expected error creating store in unwritable directory, got nil")
	}
}
