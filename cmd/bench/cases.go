// README: Benchmark cases: environment checks, claim race, geo index round trip, claim throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridewise/internal/config"
	"ridewise/internal/events"
	"ridewise/internal/infra"
	"ridewise/internal/modules/dispatch"
	"ridewise/internal/modules/location"
	"ridewise/internal/modules/ride"
	"ridewise/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

var benchOrigin = types.Point{Lat: 26.2389, Lng: 73.0243}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
		} else {
			fmt.Println("postgres unavailable:", err)
		}
	}
	if r.cfg.RedisAddr != "" {
		if client, err := infra.NewRedis(ctx, r.cfg.RedisAddr); err == nil {
			r.redis = client
		} else {
			fmt.Println("redis unavailable:", err)
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "HTTP: health", Run: checkHealth},
		{Name: "Dispatch: concurrent claim has one winner", Run: claimRace},
		{Name: "Redis: geo index round trip", Run: geoRoundTrip},
		{Name: "Perf: claim throughput", Run: claimThroughput},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not configured"}
	}
	start := time.Now()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func applyMigrations(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	for _, table := range []string{"ride_requests", "ride_history"} {
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table " + table}
		}
	}
	return Result{Status: statusPass}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return Result{Status: statusSkip, Note: "api not reachable: " + err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

// benchDispatch wires dispatch over the configured ride store with
// in-process availability and index, and n eligible drivers.
func (r *Runner) benchDispatch(ctx context.Context, n int) (*dispatch.Service, ride.Store, []types.ID, error) {
	var rides ride.Store = ride.NewMemoryStore()
	if r.db != nil {
		rides = ride.NewPostgresStore(r.db, nil)
	}
	svc := dispatch.NewService(rides, location.NewMemoryAvailabilityStore(), dispatch.NewMemoryIndex(), events.NopPublisher{}, config.DispatchConfig{}, nil)
	drivers := make([]types.ID, n)
	for i := range drivers {
		drivers[i] = types.ID(fmt.Sprintf("bench-driver-%d", i))
		if _, err := svc.SetVerified(ctx, drivers[i], true); err != nil {
			return nil, nil, nil, err
		}
		pos := benchOrigin
		if _, err := svc.SetAvailability(ctx, dispatch.SetAvailabilityCommand{DriverID: drivers[i], Status: location.StatusAvailable, Position: &pos}); err != nil {
			return nil, nil, nil, err
		}
	}
	return svc, rides, drivers, nil
}

func newBenchRide(ctx context.Context, rides ride.Store) (*ride.RideRequest, error) {
	rr := &ride.RideRequest{
		ID:          ride.NewID(),
		RiderID:     "bench-rider",
		RiderName:   "Bench",
		Origin:      benchOrigin,
		Destination: types.Point{Lat: 26.2920, Lng: 73.0168},
		RequestedAt: time.Now().UTC(),
		Status:      ride.StatusRequested,
		DistanceKm:  5.9,
		FareAmount:  120,
		Currency:    "INR",
	}
	return rr, rides.Create(ctx, rr)
}

func claimRace(ctx context.Context, r *Runner) Result {
	svc, rides, drivers, err := r.benchDispatch(ctx, r.cfg.Concurrency)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	target, err := newBenchRide(ctx, rides)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer rides.Delete(context.Background(), target.ID, nil)

	var wins, conflicts, other atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for _, d := range drivers {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := svc.Claim(ctx, dispatch.ClaimCommand{RideID: target.ID, Driver: dispatch.DriverProfile{ID: id, Name: string(id)}})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ride.ErrConflict):
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}(d)
	}
	wg.Wait()
	note := fmt.Sprintf("wins=%d conflicts=%d errors=%d", wins.Load(), conflicts.Load(), other.Load())
	if wins.Load() != 1 || other.Load() != 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

func geoRoundTrip(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	idx := dispatch.NewRedisIndex(r.redis)
	id := types.ID(fmt.Sprintf("bench-geo-%d", time.Now().UnixNano()))
	start := time.Now()
	if err := idx.AddDriver(ctx, id, benchOrigin); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer idx.RemoveDriver(context.Background(), id)
	ids, err := idx.NearbyDrivers(ctx, benchOrigin, 1, 50)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, got := range ids {
		if got == id {
			return Result{Status: statusPass, Latency: time.Since(start)}
		}
	}
	return Result{Status: statusFail, Note: "driver not found within 1 km"}
}

// claimThroughput creates and claims rides back to back for the configured duration.
func claimThroughput(ctx context.Context, r *Runner) Result {
	svc, rides, drivers, err := r.benchDispatch(ctx, r.cfg.Concurrency)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	var ops, failures atomic.Int64
	var wg sync.WaitGroup
	for _, d := range drivers {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			for ctx.Err() == nil {
				rr, err := newBenchRide(ctx, rides)
				if err != nil {
					failures.Add(1)
					continue
				}
				if _, err := svc.Claim(ctx, dispatch.ClaimCommand{RideID: rr.ID, Driver: dispatch.DriverProfile{ID: id, Name: string(id)}}); err != nil {
					failures.Add(1)
				} else {
					ops.Add(1)
				}
				_, _ = rides.Delete(context.Background(), rr.ID, nil)
			}
		}(d)
	}
	wg.Wait()
	rate := float64(ops.Load()) / r.cfg.Duration.Seconds()
	note := fmt.Sprintf("claims=%d failures=%d rate=%.1f/s", ops.Load(), failures.Load(), rate)
	if ops.Load() == 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}
