package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/logger"
)

func TestMain(m *testing.M) {
	err := logger.Up(logger.Config{LogFilePath: "/dev/null"})
	if nil != err {
		fmt.Fprintf(os.Stderr, "logger.Up() failed: %v\n", err)
		os.Exit(1)
	}

	testResults := m.Run()

	_ = logger.Down()

	os.Exit(testResults)
}

func newTestFileArchiver(t *testing.T) (archiver *FileArchiver, rootDir string) {
	rootDir = t.TempDir()
	archiver, err := NewFileArchiver(FileArchiverConfig{RootDir: rootDir}, nil)
	if nil != err {
		t.Fatalf("NewFileArchiver() failed: %v", err)
	}
	return
}

func TestFileArchiverRoundTrip(t *testing.T) {
	archiver, _ := newTestFileArchiver(t)

	pushTask := NewPushTask([]interface{}{"alpha", "beta", "gamma"})
	err := archiver.Push(pushTask)
	if nil != err {
		t.Fatalf("Push() failed: %v", err)
	}
	meta, ok := pushTask.Meta.(string)
	if !ok || ("" == meta) {
		t.Fatalf("Push() wrote back meta %v", pushTask.Meta)
	}

	pullTask := NewPullTask(meta)
	err = archiver.Pull(pullTask)
	if nil != err {
		t.Fatalf("Pull() failed: %v", err)
	}

	list, ok := pullTask.Data.([]interface{})
	if !ok {
		t.Fatalf("Pull() returned %T, expected a list", pullTask.Data)
	}
	if (3 != len(list)) || ("alpha" != list[0]) || ("beta" != list[1]) || ("gamma" != list[2]) {
		t.Fatalf("Pull() returned %v", list)
	}
}

func TestFileArchiverPushIdempotent(t *testing.T) {
	archiver, _ := newTestFileArchiver(t)

	first := NewPushTask(map[string]interface{}{"k": "v"})
	err := archiver.Push(first)
	if nil != err {
		t.Fatalf("first Push() failed: %v", err)
	}

	// identical content lands on the same address, already persisted
	second := NewPushTask(map[string]interface{}{"k": "v"})
	err = archiver.Push(second)
	if nil == err {
		t.Fatalf("duplicate Push() reported nothing")
	}
	if blunder.IsNot(err, blunder.TaskCompleteError) {
		t.Fatalf("duplicate Push() returned %v, expected task-complete", err)
	}
	if first.Meta != second.Meta {
		t.Fatalf("duplicate Push() metas differ: %v vs %v", first.Meta, second.Meta)
	}
}

func TestFileArchiverPullUnknownMeta(t *testing.T) {
	archiver, _ := newTestFileArchiver(t)

	task := NewPullTask("00000000000000000000000000000000")
	err := archiver.Pull(task)
	if blunder.IsNot(err, blunder.NotFoundError) {
		t.Fatalf("Pull() of unknown meta returned %v, expected not-found", err)
	}

	badMeta := NewPullTask(42)
	err = archiver.Pull(badMeta)
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("Pull() with non-string meta returned %v, expected invalid-arg", err)
	}
}

func TestFileArchiverDetectsCorruption(t *testing.T) {
	archiver, rootDir := newTestFileArchiver(t)

	pushTask := NewPushTask([]interface{}{"payload", "to", "damage"})
	err := archiver.Push(pushTask)
	if nil != err {
		t.Fatalf("Push() failed: %v", err)
	}

	// flip one payload byte on disk
	path := filepath.Join(rootDir, pushTask.Meta.(string)+".blob")
	blob, err := os.ReadFile(path)
	if nil != err {
		t.Fatalf("reading blob back failed: %v", err)
	}
	blob[len(blob)-1] ^= 0xFF
	err = os.WriteFile(path, blob, 0644)
	if nil != err {
		t.Fatalf("rewriting blob failed: %v", err)
	}

	pullTask := NewPullTask(pushTask.Meta)
	err = archiver.Pull(pullTask)
	if blunder.IsNot(err, blunder.DataFormatError) {
		t.Fatalf("Pull() of damaged blob returned %v, expected data-format", err)
	}

	// truncation is caught before the checksum
	err = os.WriteFile(path, blob[:8], 0644)
	if nil != err {
		t.Fatalf("truncating blob failed: %v", err)
	}
	err = archiver.Pull(NewPullTask(pushTask.Meta))
	if blunder.IsNot(err, blunder.DataFormatError) {
		t.Fatalf("Pull() of truncated blob returned %v, expected data-format", err)
	}
}

func TestFileArchiverLists(t *testing.T) {
	archiver, _ := newTestFileArchiver(t)

	pushTasks := []*PushTask{
		NewPushTask([]interface{}{"one"}),
		NewPushTask([]interface{}{"two"}),
		NewPushTask([]interface{}{"three"}),
	}
	err := archiver.PushList(pushTasks)
	if nil != err {
		t.Fatalf("PushList() failed: %v", err)
	}
	for i, task := range pushTasks {
		if nil != task.Err {
			t.Fatalf("push task %d has error %v", i, task.Err)
		}
	}

	pullTasks := []*PullTask{
		NewPullTask(pushTasks[0].Meta),
		NewPullTask("00000000000000000000000000000000"), // missing
		NewPullTask(pushTasks[2].Meta),
	}
	err = archiver.PullList(pullTasks)
	if nil == err {
		t.Fatalf("PullList() with a missing blob reported nothing")
	}
	if blunder.IsNot(err, blunder.TaskAbortError) {
		t.Fatalf("PullList() returned %v, expected task-abort", err)
	}

	// the failure attached to its task; the rest of the batch completed
	if nil != pullTasks[0].Err {
		t.Fatalf("pull task 0 has error %v", pullTasks[0].Err)
	}
	if nil == pullTasks[1].Err {
		t.Fatalf("pull task 1 has no error")
	}
	if nil != pullTasks[2].Err {
		t.Fatalf("pull task 2 has error %v", pullTasks[2].Err)
	}
	if nil == pullTasks[0].Data {
		t.Fatalf("pull task 0 has no data")
	}
}

func TestFileArchiverRejectsBadRoot(t *testing.T) {
	_, err := NewFileArchiver(FileArchiverConfig{RootDir: "/no/such/dir/anywhere"}, nil)
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("NewFileArchiver() with bad root returned %v, expected invalid-arg", err)
	}
}
