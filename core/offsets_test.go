package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/lnops/rebalance-orchestrator-go/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line)
		require.NoError(t, err)
	}
}

// deliver polls a stream and commits everything it returned, as the notifier
// does when every send succeeds.
func deliver(ctx context.Context, stream Stream) []model.SuccessEvent {
	events := stream.Poll(ctx)
	for _, event := range events {
		stream.Commit(ctx, event)
	}
	return events
}

// flakyStore fails the next getFailures reads of an otherwise working store.
type flakyStore struct {
	utils.StateStore
	getFailures int
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if s.getFailures > 0 {
		s.getFailures--
		return "", errors.New("disk i/o error")
	}
	return s.StateStore.Get(ctx, key)
}

func TestFileStreamSkipsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	appendLines(t, path,
		"1700000001,a,b,1000000,1000\n",
		"1700000002,a,b,1000000,1000\n",
		"1700000003,a,b,1000000,1000\n",
		"1700000004,a,b,1000000,1000\n",
		"1700000005,a,b,1000000,1000\n",
	)
	stream := NewFileStream(zap.NewNop(), model.StreamLocal, path, newStore(t))

	assert.Empty(t, deliver(ctx, stream), "first poll only records the end of the log")

	appendLines(t, path, "1700000006,c,d,2500000,1500\n")
	events := deliver(ctx, stream)
	require.Len(t, events, 1)
	assert.Equal(t, "1700000006", events[0].ID)
	assert.Equal(t, int64(2500), events[0].AmountSat)
	assert.True(t, decimal.RequireFromString("1.5").Equal(events[0].FeeSat))

	assert.Empty(t, deliver(ctx, stream), "polling without appends yields nothing")
}

func TestFileStreamMissingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	stream := NewFileStream(zap.NewNop(), model.StreamLocal, path, newStore(t))

	assert.Empty(t, deliver(ctx, stream))

	appendLines(t, path, "1700000001,a,b,1000000,0\n")
	assert.Len(t, deliver(ctx, stream), 1, "lines written after a missing-file start are delivered")
}

func TestFileStreamPartialLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	appendLines(t, path, "")
	stream := NewFileStream(zap.NewNop(), model.StreamLocal, path, newStore(t))
	require.Empty(t, deliver(ctx, stream))

	appendLines(t, path, "1700000001,a,b,1000000,0\n1700000002,a,b,20")
	events := deliver(ctx, stream)
	require.Len(t, events, 1)
	assert.Equal(t, "1700000001", events[0].ID)

	appendLines(t, path, "00000,0\n")
	events = deliver(ctx, stream)
	require.Len(t, events, 1)
	assert.Equal(t, "1700000002", events[0].ID)
	assert.Equal(t, int64(2000), events[0].AmountSat)
}

func TestFileStreamTruncatedLog(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	appendLines(t, path, "1700000001,a,b,1000000,0\n1700000002,a,b,1000000,0\n")
	stream := NewFileStream(zap.NewNop(), model.StreamLocal, path, newStore(t))
	require.Empty(t, deliver(ctx, stream))

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	assert.Empty(t, deliver(ctx, stream))

	appendLines(t, path, "1700000003,a,b,1000000,0\n")
	events := deliver(ctx, stream)
	require.Len(t, events, 1)
	assert.Equal(t, "1700000003", events[0].ID)
}

func TestFileStreamCursorSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	appendLines(t, path, "1700000001,a,b,1000000,0\n")
	require.Empty(t, NewFileStream(zap.NewNop(), model.StreamLocal, path, store).Poll(ctx))

	appendLines(t, path, "1700000002,a,b,1000000,0\n")
	events := deliver(ctx, NewFileStream(zap.NewNop(), model.StreamLocal, path, store))
	require.Len(t, events, 1)
	assert.Equal(t, "1700000002", events[0].ID)
}

func TestFileStreamPollDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	appendLines(t, path, "1700000001,a,b,1000000,0\n")
	stream := NewFileStream(zap.NewNop(), model.StreamLocal, path, store)
	require.Empty(t, stream.Poll(ctx))

	appendLines(t, path, "1700000002,a,b,1000000,0\n", "1700000003,a,b,1000000,0\n")
	first := stream.Poll(ctx)
	require.Len(t, first, 2)
	assert.Equal(t, first, stream.Poll(ctx), "uncommitted events are offered again")

	stream.Commit(ctx, first[0])
	cursor, err := store.Get(ctx, cursorKey(model.StreamLocal))
	require.NoError(t, err)
	assert.Equal(t, "50", cursor, "cursor sits just past the committed line")

	again := NewFileStream(zap.NewNop(), model.StreamLocal, path, store).Poll(ctx)
	require.Len(t, again, 1, "a restart resumes after the last committed event")
	assert.Equal(t, "1700000003", again[0].ID)
}

func TestFileStreamBlankLinesAdvance(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	stream := NewFileStream(zap.NewNop(), model.StreamLocal, path, store)
	require.Empty(t, stream.Poll(ctx))

	appendLines(t, path, "\n\n")
	assert.Empty(t, stream.Poll(ctx))

	cursor, err := store.Get(ctx, cursorKey(model.StreamLocal))
	require.NoError(t, err)
	assert.Equal(t, "2", cursor)
}

func TestStreamsSkipPollOnUnreadableCursor(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "success-rebal.csv")
	feed := &fakeFeed{records: records(1, 2)}

	tests := []struct {
		name   string
		build  func(store utils.StateStore) Stream
		append func()
		cursor string
		id     string
	}{
		{
			name:   "file",
			build:  func(store utils.StateStore) Stream { return NewFileStream(zap.NewNop(), model.StreamLocal, path, store) },
			append: func() { appendLines(t, path, "1700000002,a,b,1000000,0\n") },
			cursor: "25",
			id:     "1700000002",
		},
		{
			name:   "feed",
			build:  func(store utils.StateStore) Stream { return NewFeedStream(zap.NewNop(), model.StreamLndg, feed.fetch, store) },
			append: func() { feed.records = records(1, 2, 3) },
			cursor: "2",
			id:     "3",
		},
	}

	appendLines(t, path, "1700000001,a,b,1000000,0\n")
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &flakyStore{StateStore: newStore(t)}
			stream := tc.build(store)
			require.Empty(t, stream.Poll(ctx))
			tc.append()

			store.getFailures = 1
			assert.Empty(t, stream.Poll(ctx), "an unreadable cursor skips the poll")

			cursor, err := store.Get(ctx, cursorKey(stream.ID()))
			require.NoError(t, err)
			assert.Equal(t, tc.cursor, cursor, "the stored cursor is not rewritten")

			events := deliver(ctx, stream)
			require.Len(t, events, 1, "the event is delivered once the store recovers")
			assert.Equal(t, tc.id, events[0].ID)
		})
	}
}

func TestParseSuccessLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected model.SuccessEvent
	}{
		{
			name: "full row",
			line: "1700000000,111x1x0,222x2x0,1500000,2500",
			expected: model.SuccessEvent{
				Stream: model.StreamLocal, ID: "1700000000", Timestamp: time.Unix(1700000000, 0),
				Source: "111x1x0", Target: "222x2x0", AmountSat: 1500, FeeSat: decimal.RequireFromString("2.5"),
				Raw: "1700000000,111x1x0,222x2x0,1500000,2500",
			},
		},
		{
			name:     "unparseable row keeps raw text",
			line:     "garbage",
			expected: model.SuccessEvent{Stream: model.StreamLocal, FeeSat: decimal.Zero, Raw: "garbage"},
		},
		{
			name: "missing amounts",
			line: "1700000000,a,b",
			expected: model.SuccessEvent{
				Stream: model.StreamLocal, ID: "1700000000", Timestamp: time.Unix(1700000000, 0),
				Source: "a", Target: "b", FeeSat: decimal.Zero, Raw: "1700000000,a,b",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event := ParseSuccessLine(model.StreamLocal, tc.line)
			assert.True(t, tc.expected.FeeSat.Equal(event.FeeSat))
			event.FeeSat, tc.expected.FeeSat = decimal.Zero, decimal.Zero
			assert.Equal(t, tc.expected, event)
		})
	}
}

type fakeFeed struct {
	records []model.FeedRecord
	err     error
}

func (f *fakeFeed) fetch(context.Context) ([]model.FeedRecord, error) {
	return f.records, f.err
}

func records(ids ...int64) []model.FeedRecord {
	out := make([]model.FeedRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.FeedRecord{ID: id, AmountSat: 1000 * id, FeeSat: decimal.NewFromInt(id)})
	}
	return out
}

func TestFeedStream(t *testing.T) {
	ctx := context.Background()
	feed := &fakeFeed{records: records(1, 2, 3, 4, 5)}
	store := newStore(t)
	stream := NewFeedStream(zap.NewNop(), model.StreamLndg, feed.fetch, store)

	assert.Empty(t, deliver(ctx, stream), "first poll suppresses existing records")

	feed.records = records(2, 3, 4, 5, 6)
	events := deliver(ctx, stream)
	require.Len(t, events, 1)
	assert.Equal(t, "6", events[0].ID)
	assert.Equal(t, model.StreamLndg, events[0].Stream)
	assert.Equal(t, int64(6000), events[0].AmountSat)

	assert.Empty(t, deliver(ctx, stream), "each record is delivered once")

	feed.records = records(9, 7, 8)
	events = stream.Poll(ctx)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{7, 8, 9}, []int64{events[0].Cursor, events[1].Cursor, events[2].Cursor}, "events come oldest first")

	feed.err = errors.New("connection refused")
	feed.records = records(7, 8)
	assert.Empty(t, deliver(ctx, stream))

	cursor, err := store.Get(ctx, cursorKey(model.StreamLndg))
	require.NoError(t, err)
	assert.Equal(t, "6", cursor, "a failed fetch leaves the cursor alone")

	feed.err = nil
	events = deliver(ctx, stream)
	require.Len(t, events, 2)
	assert.Equal(t, "7", events[0].ID)
	assert.Equal(t, "8", events[1].ID)
}

func TestFeedStreamCorruptCursor(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Put(ctx, cursorKey(model.StreamLos), "oops"))
	feed := &fakeFeed{records: records(10, 11)}

	stream := NewFeedStream(zap.NewNop(), model.StreamLos, feed.fetch, store)
	assert.Empty(t, deliver(ctx, stream))

	cursor, err := store.Get(ctx, cursorKey(model.StreamLos))
	require.NoError(t, err)
	assert.Equal(t, "11", cursor)
}
