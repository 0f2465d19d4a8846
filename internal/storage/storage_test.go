package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "likebot/pkg/logx"
)

func exerciseSessions(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.LoadSession(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load missing: err = %v, want ErrNotFound", err)
	}
	if err := st.SaveSession(ctx, 7, []byte(`{"sessionid":"a"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveSession(ctx, 7, []byte(`{"sessionid":"b"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := st.LoadSession(ctx, 7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"sessionid":"b"}` {
		t.Fatalf("blob = %q", got)
	}
	if err := st.ClearSession(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := st.ClearSession(ctx, 7); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
	if _, err := st.LoadSession(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load after clear: err = %v", err)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	exerciseSessions(t, st)

	rec := RunRecord{JobID: "j1", SessionID: 7, Mode: "following", Outcome: "completed", Total: 3, Processed: 3, Likes: 5, StartedAt: time.Now(), Took: time.Second}
	if err := st.AppendRun(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "runs.jsonl"))
	if err != nil {
		t.Fatalf("open runs: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("runs.jsonl is empty")
	}
	var back RunRecord
	if err := json.Unmarshal(sc.Bytes(), &back); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if back.JobID != "j1" || back.Likes != 5 {
		t.Fatalf("run = %+v", back)
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSQLiteStore(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "likebot.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	exerciseSessions(t, st)

	rec := RunRecord{JobID: "j2", SessionID: 1, Mode: "post-likers", Outcome: "cancelled", StartedAt: time.Now()}
	if err := st.AppendRun(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
