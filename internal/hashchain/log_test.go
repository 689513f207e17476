package hashchain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	l, err := Open(path, 16)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendChainsHashes(t *testing.T) {
	l := openTestLog(t)

	rec1, err := l.Append(1000, map[string]string{"op": "EVENT_INGESTED"})
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, rec1.PrevHash)

	rec2, err := l.Append(1001, map[string]string{"op": "MERGE_APPLIED"})
	require.NoError(t, err)
	assert.Equal(t, rec1.Hash, rec2.PrevHash)
	assert.Equal(t, rec1.Seq+1, rec2.Seq)
}

func TestVerifyCleanChain(t *testing.T) {
	l := openTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := l.Append(int64(i), map[string]int{"i": i})
		require.NoError(t, err)
	}

	result, err := l.Verify()
	require.NoError(t, err)
	assert.True(t, result.Valid, "expected a clean chain to verify, first bad seq %d", result.FirstBadSeq)
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	l, err := Open(path, 16)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := l.Append(int64(i), map[string]int{"i": i})
		require.NoError(t, err)
	}
	l.Close()

	// Corrupt the payload of the third record (seq 2) in place, leaving its
	// stored hash stale, and confirm Verify reports the break starting there.
	tamperRecordEntry(t, path, 2)

	l2, err := Open(path, 16)
	if err == nil {
		defer l2.Close()
		result, verr := l2.Verify()
		require.NoError(t, verr)
		assert.False(t, result.Valid, "expected tampered chain to fail verification")
		assert.LessOrEqual(t, result.FirstBadSeq, uint64(2))
	}
	// Open itself may already reject the tampered file via replay(); either
	// outcome (replay error, or a verify-time false result) demonstrates
	// tamper detection.
}

func tamperRecordEntry(t *testing.T, path string, targetSeq uint64) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}

	for i, line := range lines {
		var rec Record
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec.Seq == targetSeq {
			rec.Entry = json.RawMessage(`{"i":9999}`)
			tampered, err := json.Marshal(rec)
			require.NoError(t, err)
			lines[i] = tampered
		}
	}

	var out []byte
	for _, line := range lines {
		out = append(out, line...)
		out = append(out, '\n')
	}
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestTailReturnsOldestFirstBounded(t *testing.T) {
	l := openTestLog(t)
	for i := 0; i < 20; i++ {
		_, err := l.Append(int64(i), map[string]int{"i": i})
		require.NoError(t, err)
	}

	tail := l.Tail(0)
	require.Len(t, tail, 16)
	assert.EqualValues(t, 4, tail[0].Seq)
	assert.EqualValues(t, 19, tail[len(tail)-1].Seq)
}

func TestReopenResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.jsonl")
	l1, err := Open(path, 16)
	require.NoError(t, err)
	last, err := l1.Append(0, map[string]int{"i": 0})
	require.NoError(t, err)
	l1.Close()

	l2, err := Open(path, 16)
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, last.Hash, l2.Head())

	next, err := l2.Append(1, map[string]int{"i": 1})
	require.NoError(t, err)
	assert.Equal(t, last.Seq+1, next.Seq)
	assert.Equal(t, last.Hash, next.PrevHash)
}
