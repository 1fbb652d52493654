//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/taskloom/taskloom/loom/agent/adapters"
	ports "github.com/taskloom/taskloom/loom/agent/ports"
	"github.com/taskloom/taskloom/loom/config"
	"github.com/taskloom/taskloom/loom/db"
	"github.com/taskloom/taskloom/loom/tasks"
)

func must(err error, msg string) {
	if err != nil {
		log.Fatalf("%s: %v", msg, err)
	}
}

// RunSmokeLibSQL opens a throwaway embedded database, runs the
// migrations, and pushes one task and one conversation exchange through
// the real stores. It verifies the on-disk wiring that the in-memory
// unit tests cannot: file creation, WAL pragmas, goose bookkeeping.
func RunSmokeLibSQL() {
	fmt.Println("Smoke test: embedded libsql stores")

	dir, err := os.MkdirTemp("", "taskloom-smoke")
	must(err, "tempdir")
	defer os.RemoveAll(dir)

	handle, err := db.Connect(config.DatabaseConfig{Path: filepath.Join(dir, "smoke.db")})
	must(err, "connect")
	defer handle.Close()

	ctx := context.Background()

	store := tasks.NewStore(handle)
	task := &tasks.Task{UserID: 1, Title: "smoke task", Priority: tasks.PriorityLow}
	must(store.Create(ctx, task), "create task")
	fmt.Printf("  task created: id=%d\n", task.ID)

	_, err = store.Complete(ctx, 1, task.ID)
	must(err, "complete task")

	listed, err := store.List(ctx, 1, tasks.ListOptions{Filter: tasks.FilterCompleted})
	must(err, "list tasks")
	if len(listed) != 1 {
		log.Fatalf("expected 1 completed task, got %d", len(listed))
	}

	conv := adapters.NewLibSQLConversationStore(handle)
	created, err := conv.GetOrCreate(ctx, "", 1)
	must(err, "create conversation")

	appended, err := conv.AppendExchange(ctx, created.ID, []ports.Turn{
		{Role: "user", Content: "add task smoke"},
		{Role: "assistant", Content: "Done."},
	})
	must(err, "append exchange")
	if appended[0].Sequence != 1 || appended[1].Sequence != 2 {
		log.Fatalf("unexpected sequences: %d, %d", appended[0].Sequence, appended[1].Sequence)
	}

	turns, err := conv.LoadTurns(ctx, created.ID, 10)
	must(err, "load turns")
	fmt.Printf("  conversation %s holds %d turns\n", created.ID, len(turns))

	fmt.Println("Smoke test passed")
}
