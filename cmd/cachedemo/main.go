// Command cachedemo exercises every cache component against an in-memory
// source of truth and KVStore, for manual inspection. It is a demo
// harness, not part of the core's public contract: real deployments wire
// pkg/sotstore.PostgresStore and pkg/kvstore.RedisStore instead of the
// in-memory stand-ins used here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/audit"
	"github.com/rlunar/aviation-cache-core/pkg/cacheaside"
	"github.com/rlunar/aviation-cache-core/pkg/embedding"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/llm"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/semantic"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
	"github.com/rlunar/aviation-cache-core/pkg/stampede"
	"github.com/rlunar/aviation-cache-core/pkg/vectorindex"
	"github.com/rlunar/aviation-cache-core/pkg/writebehind"
	"github.com/rlunar/aviation-cache-core/pkg/writethrough"
)

const auditInsertPrefix = "INSERT INTO audit_log"

var (
	command    = flag.String("cmd", "read", "one of: read, read-guarded, update-sync, update-async, drain, ask")
	code       = flag.String("code", "JFK", "airport code to read or update")
	name       = flag.String("name", "", "new airport name (update-sync, update-async)")
	prompt     = flag.String("prompt", "", "natural-language prompt (ask)")
	batchSize  = flag.Int("batch-size", 10, "drain batch size (drain)")
	user       = flag.String("user", "cachedemo", "audit actor recorded with a mutation")
	useBedrock = flag.Bool("bedrock", false, "use Amazon Bedrock for embeddings/generation (ask) instead of the deterministic stubs")
	awsRegion  = flag.String("aws-region", "us-east-1", "AWS region for -bedrock")
	awsProfile = flag.String("aws-profile", "", "AWS shared-config profile for -bedrock")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	kv, err := kvstore.NewMemoryStore(nil, nil)
	if err != nil {
		log.Fatalf("create kvstore: %v", err)
	}
	defer kv.Close()

	sot := newAirportStore()
	ca := cacheaside.New(kv, sot, cfg, nil, nil)
	wt := writethrough.New(sot, kv, cfg, nil, nil)
	wb := writebehind.New(kv, sot, cfg, nil, nil)
	guard := stampede.New(kv, cfg, nil, nil)

	idx, err := vectorindex.New(kv, vectorindex.Config{
		Name:        "prompt_embeddings",
		Prefix:      "embedding:prompt:",
		VectorField: "embedding",
		Dimension:   cfg.Semantic.EmbeddingDim,
	}, nil, nil)
	if err != nil {
		log.Fatalf("create vector index: %v", err)
	}
	ctx := context.Background()

	embedProvider, genProvider, err := buildSemanticBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("build semantic backends: %v", err)
	}
	sc := semantic.New(kv, idx, embedProvider, genProvider, cfg, nil, nil)

	var runErr error
	switch *command {
	case "read":
		runErr = runRead(ctx, ca)
	case "read-guarded":
		runErr = runReadGuarded(ctx, guard, sot, kv, cfg)
	case "update-sync":
		runErr = runUpdateSync(ctx, wt)
	case "update-async":
		runErr = runUpdateAsync(ctx, wb)
	case "drain":
		runErr = runDrain(ctx, wb)
	case "ask":
		runErr = runAsk(ctx, sc)
	default:
		runErr = fmt.Errorf("unknown -cmd %q", *command)
	}

	if runErr != nil {
		log.Fatalf("cachedemo: %v", runErr)
	}
}

// buildSemanticBackends returns the embedding/generation providers the
// "ask" command uses: deterministic stubs by default, or a shared Bedrock
// client (one AWS config load, two model invocations) when -bedrock is set.
func buildSemanticBackends(ctx context.Context, cfg *config.Config) (embedding.Provider, llm.Generator, error) {
	if !*useBedrock {
		return embedding.NewStubProvider(cfg.Semantic.EmbeddingDim), llm.NewStubGenerator(), nil
	}
	client, err := embedding.NewBedrockClient(ctx, embedding.ClientOptions{Region: *awsRegion, Profile: *awsProfile})
	if err != nil {
		return nil, nil, fmt.Errorf("bedrock client: %w", err)
	}
	embedProvider := embedding.NewBedrockProvider(client, embedding.DefaultBedrockConfig(), nil)
	genProvider := llm.NewBedrockGenerator(client, llm.DefaultBedrockConfig(), nil)
	return embedProvider, genProvider, nil
}

func airportReadSQL() string {
	return "SELECT code, name FROM airports WHERE code = $1"
}

func airportApplySQL() string {
	return "UPDATE airports SET name = $2 WHERE code = $1"
}

func runRead(ctx context.Context, ca *cacheaside.CacheAside) error {
	rows, source, elapsed, err := ca.Execute(ctx, airportReadSQL(), []interface{}{*code}, cacheaside.Options{})
	if err != nil {
		return err
	}
	fmt.Printf("source=%s elapsed=%s rows=%s\n", source, elapsed, rows)
	return nil
}

func runReadGuarded(ctx context.Context, guard *stampede.Guard, sot sotstore.Store, kv kvstore.Store, cfg *config.Config) error {
	key := cfg.WithNamespace("airport:" + *code)
	producer := func(ctx context.Context) ([]byte, error) {
		rows, err := sot.Query(ctx, airportReadSQL(), *code)
		if err != nil {
			return nil, err
		}
		data, err := rowset.Marshal(rows)
		if err != nil {
			return nil, err
		}
		if err := kv.Set(ctx, key, data, cfg.Cache.TTLDefault); err != nil {
			return nil, err
		}
		return data, nil
	}

	data, err := guard.Run(ctx, "airport:"+*code, producer, stampede.Options{})
	if err != nil {
		return err
	}
	rows, err := rowset.Unmarshal(data)
	if err != nil {
		return err
	}
	fmt.Printf("single-flight read: %s\n", rows)
	return nil
}

func runUpdateSync(ctx context.Context, wt *writethrough.WriteThrough) error {
	if *name == "" {
		return fmt.Errorf("-name is required for update-sync")
	}
	return wt.UpdateEntity(ctx, writethrough.Update{
		EntityKind:  "airport",
		EntityID:    *code,
		ReadSQL:     airportReadSQL(),
		ReadParams:  []interface{}{*code},
		ApplySQL:    airportApplySQL(),
		ApplyParams: []interface{}{*code, *name},
		CacheKey:    "airport:" + *code,
		User:        *user,
		Comment:     "cachedemo update-sync",
	})
}

func runUpdateAsync(ctx context.Context, wb *writebehind.WriteBehind) error {
	if *name == "" {
		return fmt.Errorf("-name is required for update-async")
	}
	row := rowset.NewRow([]string{"code", "name"}, []rowset.Value{rowset.StringValue(*code), rowset.StringValue(*name)})
	return wb.UpdateEntity(ctx, writebehind.Update{
		EntityKind:  "airport",
		EntityID:    *code,
		CacheKey:    "airport:" + *code,
		Rows:        rowset.Rows{row},
		ApplySQL:    airportApplySQL(),
		ApplyParams: []interface{}{*code, *name},
		ReadSQL:     airportReadSQL(),
		ReadParams:  []interface{}{*code},
		User:        *user,
		Comment:     "cachedemo update-async",
	})
}

func runDrain(ctx context.Context, wb *writebehind.WriteBehind) error {
	applied, failed, err := wb.DrainOnce(ctx, *batchSize)
	fmt.Printf("drained: applied=%d failed=%d\n", applied, failed)
	return err
}

func runAsk(ctx context.Context, sc *semantic.SemanticCache) error {
	if *prompt == "" {
		return fmt.Errorf("-prompt is required for ask")
	}
	res, err := sc.GetOrGenerateSQL(ctx, *prompt)
	if err != nil {
		return err
	}
	fmt.Printf("cache_kind=%s cache_hit=%v similarity=%.4f similar_prompt=%q lookup_time=%s\nsql=%s\n",
		res.CacheKind, res.CacheHit, res.Similarity, res.SimilarPrompt, res.LookupTime, res.SQL)
	return nil
}

// airportStore is a tiny in-memory sotstore.Store standing in for a real
// PostgreSQL source of truth, seeded with a handful of known airports.
type airportStore struct {
	mu       sync.Mutex
	airports map[string]string
	auditLog []audit.Record
}

func newAirportStore() *airportStore {
	return &airportStore{
		airports: map[string]string{
			"JFK": "John F. Kennedy International Airport",
			"LAX": "Los Angeles International Airport",
			"ORD": "O'Hare International Airport",
		},
	}
}

func (s *airportStore) Query(ctx context.Context, sqlText string, params ...interface{}) (rowset.Rows, error) {
	return s.lookup(params)
}

func (s *airportStore) lookup(params []interface{}) (rowset.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, _ := params[0].(string)
	name, ok := s.airports[code]
	if !ok {
		return rowset.Rows{}, nil
	}
	row := rowset.NewRow([]string{"code", "name"}, []rowset.Value{rowset.StringValue(code), rowset.StringValue(name)})
	return rowset.Rows{row}, nil
}

func (s *airportStore) Begin(ctx context.Context) (sotstore.Tx, error) {
	return &airportTx{store: s}, nil
}

func (s *airportStore) Close() error { return nil }

type airportTx struct {
	store *airportStore
}

func (t *airportTx) Query(ctx context.Context, sqlText string, params ...interface{}) (rowset.Rows, error) {
	return t.store.lookup(params)
}

// Exec recognizes the audit-log insert by its SQL prefix and records it
// in-memory; any other statement is treated as the airport UPDATE this demo
// supports, keyed by (code, name) positional parameters.
func (t *airportTx) Exec(ctx context.Context, sqlText string, params ...interface{}) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if strings.HasPrefix(sqlText, auditInsertPrefix) {
		rec := audit.Record{
			EntityKind: fmt.Sprint(params[0]),
			EntityID:   fmt.Sprint(params[1]),
			Op:         audit.Op(fmt.Sprint(params[2])),
			Before:     fmt.Sprint(params[3]),
			After:      fmt.Sprint(params[4]),
			User:       fmt.Sprint(params[5]),
			Comment:    fmt.Sprint(params[6]),
			OccurredAt: timeParam(params[7]),
		}
		t.store.auditLog = append(t.store.auditLog, rec)
		return 1, nil
	}

	code, _ := params[0].(string)
	newName, _ := params[1].(string)
	t.store.airports[code] = newName
	return 1, nil
}

func (t *airportTx) Commit() error   { return nil }
func (t *airportTx) Rollback() error { return nil }

func timeParam(v interface{}) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}
