package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(docID, chunkID string) *QueueUnit {
	return &QueueUnit{
		DocID:   docID,
		ChunkID: chunkID,
		Code:    "x := 1",
		Ranges:  []ExecRange{{Start: 0, Length: 6}},
	}
}

func chunkIDs(q *DocQueue) []string {
	var ids []string
	for _, u := range q.Units() {
		ids = append(ids, u.ChunkID)
	}
	return ids
}

func TestDocQueue_OrderPreserved(t *testing.T) {
	q := NewDocQueue("doc1", 800, 80, []*QueueUnit{
		unit("doc1", "c1"), unit("doc1", "c2"), unit("doc1", "c3"),
	})

	assert.Equal(t, []string{"c1", "c2", "c3"}, chunkIDs(q))
	assert.Equal(t, "c1", q.FirstUnit().ChunkID)
	assert.False(t, q.Complete())
}

func TestDocQueue_InsertBeforeAnchor(t *testing.T) {
	q := NewDocQueue("doc1", 0, 0, []*QueueUnit{
		unit("doc1", "c1"), unit("doc1", "c2"),
	})

	q.Update(unit("doc1", "c1b"), OpInsert, "c2")
	assert.Equal(t, []string{"c1", "c1b", "c2"}, chunkIDs(q))

	// Unknown anchor appends.
	q.Update(unit("doc1", "c9"), OpInsert, "nope")
	assert.Equal(t, []string{"c1", "c1b", "c2", "c9"}, chunkIDs(q))

	// Empty anchor appends.
	q.Update(unit("doc1", "c10"), OpInsert, "")
	assert.Equal(t, []string{"c1", "c1b", "c2", "c9", "c10"}, chunkIDs(q))
}

func TestDocQueue_InsertDuplicateUpdatesInPlace(t *testing.T) {
	q := NewDocQueue("doc1", 0, 0, []*QueueUnit{
		unit("doc1", "c1"), unit("doc1", "c2"),
	})

	dup := unit("doc1", "c1")
	dup.Code = "y := 2"
	q.Update(dup, OpInsert, "c2")

	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(q))
	assert.Equal(t, "y := 2", q.FirstUnit().Code)
}

func TestDocQueue_Delete(t *testing.T) {
	q := NewDocQueue("doc1", 0, 0, []*QueueUnit{
		unit("doc1", "c1"), unit("doc1", "c2"),
	})

	q.Update(unit("doc1", "c1"), OpDelete, "")
	assert.Equal(t, []string{"c2"}, chunkIDs(q))

	// Deleting an absent chunk is a no-op.
	q.Update(unit("doc1", "missing"), OpDelete, "")
	assert.Equal(t, []string{"c2"}, chunkIDs(q))

	q.Update(unit("doc1", "c2"), OpDelete, "")
	assert.True(t, q.Complete())
}

func TestDocQueue_UpdateInPlace(t *testing.T) {
	q := NewDocQueue("doc1", 0, 0, []*QueueUnit{
		unit("doc1", "c1"), unit("doc1", "c2"),
	})
	held := q.FirstUnit()

	repl := unit("doc1", "c1")
	repl.Ranges = []ExecRange{{Start: 0, Length: 3}, {Start: 3, Length: 3}}
	q.Update(repl, OpUpdate, "")

	// Position and identity survive; state is replaced.
	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(q))
	assert.Same(t, held, q.FirstUnit())
	assert.Len(t, q.FirstUnit().Ranges, 2)

	// Updating an absent chunk is a no-op.
	q.Update(unit("doc1", "missing"), OpUpdate, "")
	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(q))
}

func TestParseQueueOp(t *testing.T) {
	for name, want := range map[string]QueueOp{
		"insert": OpInsert,
		"delete": OpDelete,
		"update": OpUpdate,
	} {
		op, err := ParseQueueOp(name)
		require.NoError(t, err)
		assert.Equal(t, want, op)
		assert.Equal(t, name, op.String())
	}

	_, err := ParseQueueOp("move")
	assert.Error(t, err)
}

func TestDocQueueFromJSON(t *testing.T) {
	q, err := DocQueueFromJSON([]byte(`{
		"doc_id": "doc1",
		"pixel_width": 800,
		"char_width": 80,
		"units": [
			{"chunk_id": "c1", "code": "x := 1", "ranges": [{"start":0,"length":6}]},
			{"chunk_id": "c2", "code": "x + 1", "ranges": [{"start":0,"length":5}]}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "doc1", q.DocID)
	assert.Equal(t, 800, q.PixelWidth)
	assert.Equal(t, 80, q.CharWidth)
	assert.Equal(t, []string{"c1", "c2"}, chunkIDs(q))

	// Units inherit the queue's doc id when omitted.
	assert.Equal(t, "doc1", q.FirstUnit().DocID)

	// Mismatched doc id is rejected.
	_, err = DocQueueFromJSON([]byte(`{
		"doc_id": "doc1",
		"units": [{"doc_id": "other", "chunk_id": "c1"}]
	}`))
	assert.Error(t, err)

	_, err = DocQueueFromJSON([]byte(`{"units": []}`))
	assert.Error(t, err)
}
