package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

// flakyBlobStore fails the first failures writes
type flakyBlobStore struct {
	FileBlobStore
	failures int
	attempts int
}

func (s *flakyBlobStore) Put(ctx context.Context, key string, data []byte) error {
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("connection reset")
	}
	return s.FileBlobStore.Put(ctx, key, data)
}

func testMesh() []TaggedTriangle {
	return []TaggedTriangle{
		{Type: Buildings, Triangle: Triangle{{X: 2600000.25, Y: 1200000.5, Z: 410}, {X: 2600010, Y: 1200000.5, Z: 410}, {X: 2600010, Y: 1200010, Z: 425.125}}},
		{Type: Mountains, Triangle: Triangle{{X: 2590000, Y: 1190000, Z: 2100}, {X: 2590050, Y: 1190000, Z: 2110}, {X: 2590050, Y: 1190050, Z: 2150}}},
		{Type: Sea, Triangle: Triangle{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}},
	}
}

func TestResultStoreMesh(t *testing.T) {
	ctx := context.Background()
	blobs := FileBlobStore{Directory: t.TempDir()}
	mesh := testMesh()

	current := &ResultStore{Blobs: blobs, Namespace: "surroundings"}
	legacy := &ResultStore{Blobs: blobs, Namespace: "surroundings", Encoding: EncodingLegacy}

	require.NoError(t, current.PutMesh(ctx, "run-current", mesh))
	require.NoError(t, legacy.PutMesh(ctx, "run-legacy", mesh))

	// both encodings are readable by either store
	for _, store := range []*ResultStore{current, legacy} {
		for _, run := range []string{"run-current", "run-legacy"} {
			got, err := store.GetMesh(ctx, run)
			require.NoError(t, err)
			if diff := cmp.Diff(mesh, got); diff != "" {
				t.Errorf("GetMesh(%s) mismatch (-want +got):\n%s", run, diff)
			}
		}
	}

	_, err := current.GetMesh(ctx, "run-missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestResultStoreResults(t *testing.T) {
	ctx := context.Background()
	blobs := FileBlobStore{Directory: t.TempDir()}
	result := SimulationResult{
		"area-1": {"noise_TRAFFIC_DAY": {61.5, 58.25}, "noise_TRAIN_NIGHT": {0, 0}},
		"area-2": {"noise_TRAFFIC_DAY": {}},
	}

	current := &ResultStore{Blobs: blobs}
	legacy := &ResultStore{Blobs: blobs, Encoding: EncodingLegacy}
	require.NoError(t, current.PutResults(ctx, "a", result))
	require.NoError(t, legacy.PutResults(ctx, "b", result))

	for _, run := range []string{"a", "b"} {
		got, err := current.GetResults(ctx, run)
		require.NoError(t, err)
		assert.Equal(t, result, got)
	}
}

func TestResultStoreRejectsUnknownData(t *testing.T) {
	ctx := context.Background()
	blobs := FileBlobStore{Directory: t.TempDir()}
	store := &ResultStore{Blobs: blobs}

	require.NoError(t, blobs.Put(ctx, "garbage/"+meshBlobName, []byte("not a mesh")))
	_, err := store.GetMesh(ctx, "garbage")
	assert.Error(t, err)

	err = store.PutMesh(ctx, "bad", []TaggedTriangle{{Type: "VOLCANO"}})
	assert.Error(t, err)

	raw, err := encodeMesh(testMesh())
	require.NoError(t, err)
	plain, err := unzstdBytes(raw)
	require.NoError(t, err)
	truncated, err := zstdBytes(plain[:len(plain)-1])
	require.NoError(t, err)
	_, err = decodeMesh(truncated)
	assert.ErrorContains(t, err, "truncated")
}

func TestResultStoreRetriesWrites(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyBlobStore{FileBlobStore: FileBlobStore{Directory: t.TempDir()}, failures: 1}
	store := &ResultStore{Blobs: blobs, MaxAttempts: 3}

	require.NoError(t, store.PutMesh(ctx, "run", testMesh()[:1]))
	assert.Equal(t, 2, blobs.attempts)

	got, err := store.GetMesh(ctx, "run")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r3.Vec{X: 2600000.25, Y: 1200000.5, Z: 410}, got[0].Triangle[0])
}
