package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertenrich/internal/enrich"
	"github.com/linnemanlabs/alertenrich/internal/stream"
)

// fakeClient scripts XREADGROUP replies and records everything else.
type fakeClient struct {
	groupErr error
	reads    []readReply
	readArgs []*redis.XReadGroupArgs
	acked    []string
	ackErr   error
	added    []*redis.XAddArgs
	addErr   error
}

type readReply struct {
	streams []redis.XStream
	err     error
}

func (f *fakeClient) XGroupCreateMkStream(context.Context, string, string, string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeClient) XReadGroup(_ context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.readArgs = append(f.readArgs, a)
	if len(f.reads) == 0 {
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	return redis.NewXStreamSliceCmdResult(r.streams, r.err)
}

func (f *fakeClient) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	if f.ackErr != nil {
		return redis.NewIntResult(0, f.ackErr)
	}
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeClient) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeClient) Close() error { return nil }

func entries(msgs ...redis.XMessage) []redis.XStream {
	return []redis.XStream{{Stream: DefaultInputStream, Messages: msgs}}
}

func TestNewConsumer_GroupExists(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	if _, err := NewConsumer(context.Background(), fc, DefaultInputStream, DefaultGroup, "c1", log.Nop()); err != nil {
		t.Fatalf("NewConsumer with existing group: %v", err)
	}
}

func TestNewConsumer_Errors(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{groupErr: errors.New("WRONGTYPE")}
	if _, err := NewConsumer(context.Background(), fc, DefaultInputStream, DefaultGroup, "c1", nil); err == nil {
		t.Error("expected group creation error")
	}
	if _, err := NewConsumer(context.Background(), &fakeClient{}, "", DefaultGroup, "c1", nil); err == nil {
		t.Error("expected error for empty stream")
	}
}

func TestConsumer_DrainsPendingThenNew(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{reads: []readReply{
		{streams: entries(redis.XMessage{ID: "1-0", Values: map[string]any{FieldData: `{"subjectId":"7"}`, FieldSubjectID: "7"}})},
		{streams: entries()}, // pending drained
		{streams: entries(redis.XMessage{ID: "2-0", Values: map[string]any{FieldData: `{"subjectId":"8"}`}})},
	}}
	c, err := NewConsumer(context.Background(), fc, DefaultInputStream, DefaultGroup, "c1", nil)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	first, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch #1: %v", err)
	}
	if first.Ref != "1-0" || string(first.Key) != "7" || string(first.Payload) != `{"subjectId":"7"}` {
		t.Errorf("first = %+v", first)
	}
	if first.ID != DefaultInputStream+"-1-0" {
		t.Errorf("first.ID = %q, want stream-qualified entry id", first.ID)
	}

	second, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch #2: %v", err)
	}
	if second.Ref != "2-0" || string(second.Key) != "2-0" {
		t.Errorf("second = %+v, want key falling back to entry id", second)
	}

	if len(fc.readArgs) != 3 {
		t.Fatalf("reads = %d, want 3", len(fc.readArgs))
	}
	if got := fc.readArgs[0].Streams[1]; got != "0" {
		t.Errorf("first read start = %q, want 0 (pending)", got)
	}
	if got := fc.readArgs[2].Streams[1]; got != ">" {
		t.Errorf("third read start = %q, want >", got)
	}
	if fc.readArgs[2].Block != readBlock {
		t.Errorf("Block = %v, want %v", fc.readArgs[2].Block, readBlock)
	}
}

func TestConsumer_BlockTimeoutLoopsUntilCancel(t *testing.T) {
	t.Parallel()

	c, err := NewConsumer(context.Background(), &fakeClient{}, DefaultInputStream, DefaultGroup, "c1", nil)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Fetch(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Fetch err = %v, want deadline exceeded", err)
	}
}

func TestConsumer_ReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("LOADING")
	fc := &fakeClient{reads: []readReply{{err: boom}}}
	c, _ := NewConsumer(context.Background(), fc, DefaultInputStream, DefaultGroup, "c1", nil)
	if _, err := c.Fetch(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestConsumer_Commit(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	c, _ := NewConsumer(context.Background(), fc, DefaultInputStream, DefaultGroup, "c1", nil)

	if err := c.Commit(context.Background(), &stream.Message{Ref: "5-1"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(fc.acked) != 1 || fc.acked[0] != "5-1" {
		t.Errorf("acked = %v", fc.acked)
	}
	if err := c.Commit(context.Background(), &stream.Message{Ref: 42}); err == nil {
		t.Error("expected error for foreign ref")
	}

	fc.ackErr = errors.New("NOGROUP")
	if err := c.Commit(context.Background(), &stream.Message{Ref: "6-0"}); err == nil {
		t.Error("expected ack error")
	}
}

func TestProducer_Publish(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	p, err := NewProducer(fc, DefaultOutputStream, 10000, nil)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}

	a := &enrich.EnrichedAlert{Title: "T", Severity: enrich.SeverityCritical, SubjectID: "42"}
	if err := p.Publish(context.Background(), "01J0", a); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(fc.added) != 1 {
		t.Fatalf("added = %d, want 1", len(fc.added))
	}
	args := fc.added[0]
	if args.Stream != DefaultOutputStream || args.MaxLen != 10000 || !args.Approx {
		t.Errorf("args = %+v", args)
	}
	vals := args.Values.(map[string]any)
	if vals[FieldEnrichmentID] != "01J0" || vals[FieldSeverity] != "critical" || vals[FieldSubjectID] != "42" {
		t.Errorf("values = %v", vals)
	}
	var got enrich.EnrichedAlert
	if err := json.Unmarshal([]byte(vals[FieldData].(string)), &got); err != nil || got.Title != "T" {
		t.Errorf("data = %v (%v)", vals[FieldData], err)
	}
}

func TestProducer_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewProducer(&fakeClient{}, "", 0, nil); err == nil {
		t.Error("expected error for empty stream")
	}

	boom := errors.New("OOM")
	p, _ := NewProducer(&fakeClient{addErr: boom}, DefaultOutputStream, 0, nil)
	if err := p.Publish(context.Background(), "id", &enrich.EnrichedAlert{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

func TestNewClient_EmptyAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), "", "", 0); err == nil {
		t.Error("expected error for empty addr")
	}
}

func TestRoundTrip_Integration(t *testing.T) {
	addr := os.Getenv("ALERTENRICH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ALERTENRICH_TEST_REDIS_ADDR not set, skipping integration test")
	}
	ctx := context.Background()
	rc, err := NewClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	streamName := "alertenrich-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { rc.Del(context.Background(), streamName) })

	p, _ := NewProducer(rc, streamName, 0, nil)
	if err := p.Publish(ctx, "id-1", &enrich.EnrichedAlert{SubjectID: "42"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	c, err := NewConsumer(ctx, rc, streamName, "test-group", "c1", nil)
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := c.Fetch(fctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(msg.Key) != "42" {
		t.Errorf("Key = %q, want 42", msg.Key)
	}
	if err := c.Commit(ctx, msg); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
