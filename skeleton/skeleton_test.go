package skeleton

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/logger"
	"github.com/redwerk/plugin-Library/serial"
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

// testArchiverStruct is an in-memory node archiver: it stores each pushed
// node's attribute map under a sequential handle and rebuilds a fresh node
// on every pull. Pulls can be failed selectively.
type testArchiverStruct struct {
	sync.Mutex
	translator serial.Translator
	blobs      map[string]interface{}
	nextObject int
	pushCount  int
	pullCount  int
	failMetas  map[string]bool
}

func newTestArchiver(translator serial.Translator) (archiver *testArchiverStruct) {
	archiver = &testArchiverStruct{
		translator: translator,
		blobs:      make(map[string]interface{}),
		failMetas:  make(map[string]bool),
	}
	return
}

func (archiver *testArchiverStruct) Push(task *serial.PushTask) (err error) {
	intermediate, err := archiver.translator.App(task.Data)
	if nil != err {
		return
	}

	archiver.Lock()
	archiver.nextObject++
	meta := fmt.Sprintf("obj-%06d", archiver.nextObject)
	archiver.blobs[meta] = intermediate
	archiver.pushCount++
	archiver.Unlock()

	task.Meta = meta
	err = nil
	return
}

func (archiver *testArchiverStruct) Pull(task *serial.PullTask) (err error) {
	meta, ok := task.Meta.(string)
	if !ok {
		err = blunder.NewError(blunder.InvalidArgError, "testArchiver given meta %v", task.Meta)
		return
	}

	archiver.Lock()
	archiver.pullCount++
	failed := archiver.failMetas[meta]
	blob, found := archiver.blobs[meta]
	archiver.Unlock()

	if failed {
		err = blunder.NewError(blunder.IOError, "injected pull failure for %s", meta)
		return
	}
	if !found {
		err = blunder.NewError(blunder.NotFoundError, "no blob %s", meta)
		return
	}

	task.Data, err = archiver.translator.Rev(blob)
	return
}

func (archiver *testArchiverStruct) PullList(tasks []*serial.PullTask) (err error) {
	var (
		failures int
		firstErr error
	)

	for _, task := range tasks {
		task.Err = archiver.Pull(task)
		if (nil != task.Err) && blunder.IsNot(task.Err, blunder.TaskCompleteError) {
			failures++
			if nil == firstErr {
				firstErr = task.Err
			}
		}
	}
	if 0 != failures {
		err = blunder.NewError(blunder.TaskAbortError, "pull batch aborted: %d of %d tasks failed (first: %v)", failures, len(tasks), firstErr)
	}
	return
}

func (archiver *testArchiverStruct) PushList(tasks []*serial.PushTask) (err error) {
	var (
		failures int
		firstErr error
	)

	for _, task := range tasks {
		task.Err = archiver.Push(task)
		if (nil != task.Err) && blunder.IsNot(task.Err, blunder.TaskCompleteError) {
			failures++
			if nil == firstErr {
				firstErr = task.Err
			}
		}
	}
	if 0 != failures {
		err = blunder.NewError(blunder.TaskAbortError, "push batch aborted: %d of %d tasks failed (first: %v)", failures, len(tasks), firstErr)
	}
	return
}

func (archiver *testArchiverStruct) counts() (pushes int, pulls int) {
	archiver.Lock()
	defer archiver.Unlock()
	pushes = archiver.pushCount
	pulls = archiver.pullCount
	return
}

func testValue(key int) string {
	return fmt.Sprintf("value-%04d", key)
}

// buildTestTree inserts keys [1, count] and wires an in-memory archiver.
func buildTestTree(t *testing.T, nodeMin int, count int) (tree *SkeletonBTreeMap, archiver *testArchiverStruct) {
	tree, err := NewSkeletonBTreeMap(CompareInt, nodeMin)
	if nil != err {
		t.Fatalf("NewSkeletonBTreeMap() failed: %v", err)
	}

	for key := 1; key <= count; key++ {
		ok, putErr := tree.Put(key, testValue(key))
		if nil != putErr {
			t.Fatalf("Put(%d) failed: %v", key, putErr)
		}
		if !ok {
			t.Fatalf("Put(%d) reported replace on first insert", key)
		}
	}
	if tree.Len() != count {
		t.Fatalf("Len() == %d, expected %d", tree.Len(), count)
	}
	err = tree.Validate()
	if nil != err {
		t.Fatalf("Validate() after build failed: %v", err)
	}

	archiver = newTestArchiver(tree.MakeNodeTranslator(TranslatorBundle{}))
	err = tree.SetSerialiser(archiver)
	if nil != err {
		t.Fatalf("SetSerialiser() failed: %v", err)
	}
	return
}

func collectKeys(t *testing.T, tree *SkeletonBTreeMap) (keys []int) {
	err := tree.Each(func(key Key, value Value) bool {
		keys = append(keys, key.(int))
		return true
	})
	if nil != err {
		t.Fatalf("Each() failed: %v", err)
	}
	return
}

// Deflate, then inflate by straight recursion, and verify the full key
// sequence comes back in order.
func TestDeflateInflateRoundTrip(t *testing.T) {
	tree, _ := buildTestTree(t, 2, 100)

	err := tree.Deflate()
	if nil != err {
		t.Fatalf("Deflate() failed: %v", err)
	}
	if !tree.IsBare() {
		t.Fatalf("tree not bare after Deflate()")
	}
	if tree.IsLive() {
		t.Fatalf("tree still live after Deflate()")
	}
	if tree.Len() != 100 {
		t.Fatalf("Len() == %d after Deflate(), expected 100", tree.Len())
	}

	err = tree.Inflate()
	if nil != err {
		t.Fatalf("Inflate() failed: %v", err)
	}
	if !tree.IsLive() {
		t.Fatalf("tree not live after Inflate()")
	}

	keys := collectKeys(t, tree)
	if len(keys) != 100 {
		t.Fatalf("iteration returned %d keys, expected 100", len(keys))
	}
	for i, key := range keys {
		if key != i+1 {
			t.Fatalf("keys[%d] == %d, expected %d", i, key, i+1)
		}
	}

	err = tree.Validate()
	if nil != err {
		t.Fatalf("Validate() after round trip failed: %v", err)
	}
}

// After a full deflate, Get must report not-loaded, and the InflateKey
// retry loop must resolve the key in a handful of pulls (one per level).
func TestTargetedInflate(t *testing.T) {
	tree, archiver := buildTestTree(t, 2, 100)

	err := tree.Deflate()
	if nil != err {
		t.Fatalf("Deflate() failed: %v", err)
	}

	_, _, err = tree.Get(50)
	if nil == err {
		t.Fatalf("Get(50) on bare tree unexpectedly succeeded")
	}
	if blunder.IsNot(err, blunder.NotLoadedError) {
		t.Fatalf("Get(50) on bare tree returned %v, expected not-loaded", err)
	}

	err = tree.InflateKey(50)
	if nil != err {
		t.Fatalf("InflateKey(50) failed: %v", err)
	}

	value, ok, err := tree.Get(50)
	if nil != err {
		t.Fatalf("Get(50) after InflateKey failed: %v", err)
	}
	if !ok {
		t.Fatalf("Get(50) after InflateKey found nothing")
	}
	if value.(string) != testValue(50) {
		t.Fatalf("Get(50) == %v, expected %v", value, testValue(50))
	}

	// one pull per tree level at most
	_, pulls := archiver.counts()
	if pulls > 6 {
		t.Fatalf("targeted inflate used %d pulls, expected at most 6", pulls)
	}

	// the untouched part of the tree is still ghosted
	if tree.IsLive() {
		t.Fatalf("tree fully live after a single targeted inflate")
	}
}

// A second Deflate of a bare tree pushes nothing and succeeds.
func TestDeflateIdempotent(t *testing.T) {
	tree, archiver := buildTestTree(t, 2, 64)

	err := tree.Deflate()
	if nil != err {
		t.Fatalf("Deflate() failed: %v", err)
	}
	pushesAfterFirst, _ := archiver.counts()

	err = tree.Deflate()
	if nil != err {
		t.Fatalf("second Deflate() failed: %v", err)
	}
	pushesAfterSecond, _ := archiver.counts()

	if pushesAfterFirst != pushesAfterSecond {
		t.Fatalf("second Deflate() pushed %d objects", pushesAfterSecond-pushesAfterFirst)
	}
	if !tree.IsBare() {
		t.Fatalf("tree not bare after second Deflate()")
	}
}

// Replacing the serialiser is forbidden while parts of the tree are
// ghosted.
func TestSetSerialiserWhileNotLive(t *testing.T) {
	tree, archiver := buildTestTree(t, 2, 32)

	err := tree.Deflate()
	if nil != err {
		t.Fatalf("Deflate() failed: %v", err)
	}

	err = tree.SetSerialiser(archiver)
	if nil == err {
		t.Fatalf("SetSerialiser() on a bare tree unexpectedly succeeded")
	}
	if blunder.IsNot(err, blunder.IllegalStateError) {
		t.Fatalf("SetSerialiser() on a bare tree returned %v, expected illegal-state", err)
	}
}

// Mutating a partially-loaded tree reports not-loaded instead of guessing.
func TestWritesHitGhosts(t *testing.T) {
	tree, _ := buildTestTree(t, 2, 100)

	err := tree.Deflate()
	if nil != err {
		t.Fatalf("Deflate() failed: %v", err)
	}
	// make the root entries usable again but keep the children ghosted
	tree.root.entries.Inflate()

	_, err = tree.Put(1000, "late")
	if blunder.IsNot(err, blunder.NotLoadedError) {
		t.Fatalf("Put() into ghosted subtree returned %v, expected not-loaded", err)
	}

	_, err = tree.Remove(50)
	if blunder.IsNot(err, blunder.NotLoadedError) {
		t.Fatalf("Remove() from ghosted subtree returned %v, expected not-loaded", err)
	}
}

// The node-level targeted deflate pushes one bare child and swaps in its
// ghost; a non-bare child is a contract violation.
func TestTargetedDeflate(t *testing.T) {
	tree, _ := buildTestTree(t, 2, 100)

	// a live child is not bare: targeted deflate must refuse
	firstLkey := tree.root.nodes[0].leftKey()
	err := tree.root.deflateChild(firstLkey)
	if blunder.IsNot(err, blunder.IllegalStateError) {
		t.Fatalf("deflateChild() of a live child returned %v, expected illegal-state", err)
	}

	// round-trip one slot: deflate everything, re-inflate one child (it
	// arrives bare), then target it
	err = tree.Deflate()
	if nil != err {
		t.Fatalf("Deflate() failed: %v", err)
	}
	tree.root.entries.Inflate()

	err = tree.root.inflateChild(firstLkey, false)
	if nil != err {
		t.Fatalf("inflateChild() failed: %v", err)
	}
	if tree.root.nodes[0].isGhost() {
		t.Fatalf("slot still ghosted after inflateChild()")
	}
	ghostsBefore := tree.root.ghosts

	err = tree.root.deflateChild(firstLkey)
	if nil != err {
		t.Fatalf("deflateChild() failed: %v", err)
	}
	if !tree.root.nodes[0].isGhost() {
		t.Fatalf("slot not ghosted after deflateChild()")
	}
	if tree.root.ghosts != ghostsBefore+1 {
		t.Fatalf("ghosts == %d after deflateChild(), expected %d", tree.root.ghosts, ghostsBefore+1)
	}

	// already ghosted: no-op
	err = tree.root.deflateChild(firstLkey)
	if nil != err {
		t.Fatalf("deflateChild() of a ghost slot failed: %v", err)
	}
}

// DeflateKey is declared but unsupported at the map level.
func TestDeflateKeyUnsupported(t *testing.T) {
	tree, _ := buildTestTree(t, 2, 16)

	err := tree.DeflateKey(8)
	if blunder.IsNot(err, blunder.NotImplementedError) {
		t.Fatalf("DeflateKey() returned %v, expected not-implemented", err)
	}
}
