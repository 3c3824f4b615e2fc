package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/alertenrich/internal/directory/pgdirectory.(*Store).FindByHouseID", "(*Store).FindByHouseID"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	in := "SELECT a,\n\t\tb\n  FROM   patients\n WHERE house_id = $1"
	want := "SELECT a, b FROM patients WHERE house_id = $1"
	if got := compactSQL(in); got != want {
		t.Errorf("compactSQL = %q, want %q", got, want)
	}
}

func TestQueryStats(t *testing.T) {
	t.Parallel()

	ctx, s := WithQueryStats(context.Background())
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))

	got, ok := QueryStatsFromContext(ctx)
	if !ok || got != s {
		t.Fatal("expected the same stats pointer from context")
	}
	n, total, errs := got.Snapshot()
	if n != 2 || total != 30*time.Millisecond || errs != 1 {
		t.Errorf("Snapshot = %d, %v, %d; want 2, 30ms, 1", n, total, errs)
	}
}

func TestQueryStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	if _, ok := QueryStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestSourceFromContext(t *testing.T) {
	t.Parallel()

	if got := sourceFromContext(context.Background()); got != "unknown" {
		t.Errorf("empty ctx source = %q, want unknown", got)
	}
	if got := sourceFromContext(WithSource(context.Background(), "kafka")); got != "kafka" {
		t.Errorf("source = %q, want kafka", got)
	}
	if got := sourceFromContext(WithSource(context.Background(), "")); got != "unknown" {
		t.Errorf("empty WithSource = %q, want unknown", got)
	}

	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/enrich"}
	ctx := context.WithValue(context.Background(), chi.RouteCtxKey, rc)
	if got := sourceFromContext(ctx); got != "/api/v1/enrich" {
		t.Errorf("chi source = %q, want /api/v1/enrich", got)
	}
	if got := sourceFromContext(WithSource(ctx, "redis")); got != "redis" {
		t.Errorf("explicit source should win over route, got %q", got)
	}
}

func TestShouldLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		slow time.Duration
		dur  time.Duration
		err  error
		want bool
	}{
		{"log all", 0, time.Microsecond, nil, true},
		{"below threshold", 100 * time.Millisecond, time.Millisecond, nil, false},
		{"above threshold", 100 * time.Millisecond, time.Second, nil, true},
		{"failures only, ok", -1, time.Second, nil, false},
		{"failures only, err", -1, time.Microsecond, errors.New("x"), true},
		{"error below threshold", time.Hour, 0, errors.New("x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := loggingTracer{slowQuery: tt.slow}
			if got := tr.shouldLog(tt.dur, tt.err); got != tt.want {
				t.Errorf("shouldLog = %v, want %v", got, tt.want)
			}
		})
	}
}

// recordingTracer counts inner tracer calls.
type recordingTracer struct {
	starts, ends int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.starts++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) {
	r.ends++
}

func TestLoggingTracer_DelegatesAndObserves(t *testing.T) {
	// Not parallel: swaps the global query observer.
	defer SetQueryObserver(nil)

	var gotSource, gotCaller, gotOutcome string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, source, caller, outcome string, _ time.Duration) {
		gotSource, gotCaller, gotOutcome = source, caller, outcome
	}))

	inner := &recordingTracer{}
	tr := wrapQueryTracer(inner, -1)

	ctx, stats := WithQueryStats(WithSource(context.Background(), "kafka"))
	ctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	time.Sleep(time.Millisecond)
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{
		CommandTag: pgconn.NewCommandTag("SELECT 1"),
		Err:        errors.New("boom"),
	})

	if inner.starts != 1 || inner.ends != 1 {
		t.Errorf("inner calls = %d/%d, want 1/1", inner.starts, inner.ends)
	}
	if gotSource != "kafka" || gotOutcome != "error" {
		t.Errorf("observed source=%q outcome=%q, want kafka/error", gotSource, gotOutcome)
	}
	if gotCaller == "" {
		t.Error("expected a caller label")
	}
	if n, _, errs := stats.Snapshot(); n != 1 || errs != 1 {
		t.Errorf("stats = %d queries, %d errors; want 1, 1", n, errs)
	}
}

func TestSetQueryObserver(t *testing.T) {
	// Not parallel: swaps the global query observer.
	defer SetQueryObserver(nil)

	called := false
	SetQueryObserver(QueryObserverFunc(func(context.Context, string, string, string, time.Duration) {
		called = true
	}))
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "kafka", "(*Store).FindByHouseID", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "::not a url::", PoolOptions{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewPool_Integration(t *testing.T) {
	dsn := os.Getenv("ALERTENRICH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ALERTENRICH_TEST_DATABASE_URL not set")
	}

	pool, err := NewPool(context.Background(), dsn, PoolOptions{MaxConns: 2, SlowQuery: -1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	var one int
	if err := pool.QueryRow(context.Background(), "SELECT 1").Scan(&one); err != nil || one != 1 {
		t.Fatalf("SELECT 1 = %d, %v", one, err)
	}
}
