package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/lnops/rebalance-orchestrator-go/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var thousand = decimal.NewFromInt(1000)

// Stream yields success events not yet delivered. Poll only reads; the
// cursor moves when the caller commits a delivered event, so an event that
// was never sent is offered again on the next poll. The first poll of a
// stream only records where it currently ends, so history is never replayed.
type Stream interface {
	ID() string
	Poll(ctx context.Context) []model.SuccessEvent
	Commit(ctx context.Context, event model.SuccessEvent)
}

type cursorState int

const (
	cursorMissing cursorState = iota
	cursorFound
	cursorUnreadable
)

func cursorKey(stream string) string {
	return "cursor_" + stream
}

// loadCursor distinguishes an absent or corrupt cursor, which is reinitialised,
// from a failed read, which must leave the stored cursor alone.
func loadCursor(ctx context.Context, log *zap.Logger, store utils.StateStore, stream string) (int64, cursorState) {
	raw, err := store.Get(ctx, cursorKey(stream))
	if errors.Is(err, utils.ErrStateNotFound) {
		return 0, cursorMissing
	}
	if err != nil {
		log.Warn("cannot read cursor, skipping poll", zap.String("stream", stream), zap.Error(err))
		return 0, cursorUnreadable
	}
	position, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || position < 0 {
		log.Warn("corrupt cursor, reinitialising", zap.String("stream", stream), zap.String("raw", raw))
		return 0, cursorMissing
	}
	return position, cursorFound
}

func saveCursor(ctx context.Context, log *zap.Logger, store utils.StateStore, stream string, position int64) {
	if err := store.Put(ctx, cursorKey(stream), strconv.FormatInt(position, 10)); err != nil {
		log.Error("cannot persist cursor", zap.String("stream", stream), zap.Int64("position", position), zap.Error(err))
	}
}

// FileStream follows an append-only CSV log by byte offset. Only complete
// lines are consumed, so a line being written concurrently waits for the
// next poll.
type FileStream struct {
	id    string
	path  string
	log   *zap.Logger
	store utils.StateStore
}

func NewFileStream(log *zap.Logger, id, path string, store utils.StateStore) *FileStream {
	return &FileStream{id: id, path: path, log: log.With(zap.String("stream", id)), store: store}
}

func (s *FileStream) ID() string { return s.id }

func (s *FileStream) Poll(ctx context.Context) []model.SuccessEvent {
	size, err := fileSize(s.path)
	if err != nil {
		s.log.Warn("cannot stat success log", zap.Error(err))
		return nil
	}

	cursor, state := loadCursor(ctx, s.log, s.store, s.id)
	switch state {
	case cursorUnreadable:
		return nil
	case cursorMissing:
		saveCursor(ctx, s.log, s.store, s.id, size)
		s.log.Info("cursor initialised at end of stream", zap.Int64("position", size))
		return nil
	}
	if size < cursor {
		s.log.Warn("success log shrank, cursor moved to new end", zap.Int64("cursor", cursor), zap.Int64("size", size))
		saveCursor(ctx, s.log, s.store, s.id, size)
		return nil
	}
	if size == cursor {
		return nil
	}

	chunk, err := readRange(s.path, cursor, size)
	if err != nil {
		s.log.Warn("cannot read success log", zap.Error(err))
		return nil
	}

	complete := bytes.LastIndexByte(chunk, '\n')
	if complete < 0 {
		return nil
	}
	chunk = chunk[:complete+1]

	var events []model.SuccessEvent
	offset := cursor
	for _, line := range bytes.SplitAfter(chunk, []byte("\n")) {
		offset += int64(len(line))
		text := strings.TrimSpace(string(line))
		if text == "" {
			continue
		}
		event := ParseSuccessLine(s.id, text)
		event.Cursor = offset
		events = append(events, event)
	}

	if len(events) == 0 {
		saveCursor(ctx, s.log, s.store, s.id, offset)
	}
	return events
}

func (s *FileStream) Commit(ctx context.Context, event model.SuccessEvent) {
	saveCursor(ctx, s.log, s.store, s.id, event.Cursor)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func readRange(path string, from, to int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// ParseSuccessLine reads "timestamp,from_chan,to_chan,amount_msat,fee_msat".
// Rows it cannot fully parse still produce an event carrying the raw line.
func ParseSuccessLine(stream, line string) model.SuccessEvent {
	event := model.SuccessEvent{Stream: stream, Raw: line, FeeSat: decimal.Zero}

	fields, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return event
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if len(fields) > 0 {
		if ts, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			event.Timestamp = time.Unix(ts, 0)
			event.ID = fields[0]
		}
	}
	if len(fields) > 2 {
		event.Source = fields[1]
		event.Target = fields[2]
	}
	if len(fields) > 3 {
		if msat, err := decimal.NewFromString(fields[3]); err == nil {
			event.AmountSat = msat.Div(thousand).IntPart()
		}
	}
	if len(fields) > 4 {
		if msat, err := decimal.NewFromString(fields[4]); err == nil {
			event.FeeSat = msat.Div(thousand)
		}
	}
	return event
}

// FeedFunc fetches the current successful records of a remote feed.
type FeedFunc func(ctx context.Context) ([]model.FeedRecord, error)

// FeedStream follows a remote feed by the highest record id delivered.
type FeedStream struct {
	id    string
	fetch FeedFunc
	log   *zap.Logger
	store utils.StateStore
}

func NewFeedStream(log *zap.Logger, id string, fetch FeedFunc, store utils.StateStore) *FeedStream {
	return &FeedStream{id: id, fetch: fetch, log: log.With(zap.String("stream", id)), store: store}
}

func (s *FeedStream) ID() string { return s.id }

func (s *FeedStream) Poll(ctx context.Context) []model.SuccessEvent {
	records, err := s.fetch(ctx)
	if err != nil {
		s.log.Warn("feed unavailable, retrying next poll", zap.Error(err))
		return nil
	}

	var maxID int64
	for _, r := range records {
		if r.ID > maxID {
			maxID = r.ID
		}
	}

	cursor, state := loadCursor(ctx, s.log, s.store, s.id)
	switch state {
	case cursorUnreadable:
		return nil
	case cursorMissing:
		saveCursor(ctx, s.log, s.store, s.id, maxID)
		s.log.Info("cursor initialised at newest record", zap.Int64("position", maxID))
		return nil
	}

	var events []model.SuccessEvent
	for _, r := range records {
		if r.ID <= cursor {
			continue
		}
		events = append(events, model.SuccessEvent{
			Stream:    s.id,
			ID:        strconv.FormatInt(r.ID, 10),
			Cursor:    r.ID,
			Timestamp: r.Finished,
			Source:    r.Source,
			Target:    r.Target,
			AmountSat: r.AmountSat,
			FeeSat:    r.FeeSat,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Cursor < events[j].Cursor })
	return events
}

func (s *FeedStream) Commit(ctx context.Context, event model.SuccessEvent) {
	saveCursor(ctx, s.log, s.store, s.id, event.Cursor)
}
