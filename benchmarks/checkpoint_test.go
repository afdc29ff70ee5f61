package benchmarks

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// LargeState represents a larger state for realistic benchmarks.
type LargeState struct {
	ID       string            `json:"id"`
	Values   []int             `json:"values"`
	Metadata map[string]string `json:"metadata"`
	Nested   struct {
		A string   `json:"a"`
		B int      `json:"b"`
		C []string `json:"c"`
	} `json:"nested"`
}

// BenchmarkMemoryProvider_Save measures in-memory checkpoint save.
func BenchmarkMemoryProvider_Save(b *testing.B) {
	benchmarkSave(b, persistence.NewMemoryProvider())
}

// BenchmarkMemoryProvider_Latest measures in-memory latest checkpoint load.
func BenchmarkMemoryProvider_Latest(b *testing.B) {
	benchmarkLatest(b, persistence.NewMemoryProvider())
}

// BenchmarkSQLiteProvider_Save measures SQLite checkpoint save.
func BenchmarkSQLiteProvider_Save(b *testing.B) {
	benchmarkSave(b, sqliteProvider(b))
}

// BenchmarkSQLiteProvider_Latest measures SQLite latest checkpoint load.
func BenchmarkSQLiteProvider_Latest(b *testing.B) {
	benchmarkLatest(b, sqliteProvider(b))
}

// BenchmarkFileProvider_Save measures file checkpoint save.
func BenchmarkFileProvider_Save(b *testing.B) {
	store, err := persistence.NewFileProvider(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	benchmarkSave(b, store)
}

// BenchmarkRun_WithCheckpointing measures execution with a checkpoint
// after every transition.
func BenchmarkRun_WithCheckpointing(b *testing.B) {
	store := persistence.NewMemoryProvider()
	strategy := mustBuildLarge(5)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		agent, err := agentgraph.NewAgent(ctx, strategy,
			agentgraph.WithAgentID(fmt.Sprintf("run-%d", i)),
			agentgraph.WithPersistence(store),
			quiet(),
		)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := agent.Run(ctx, createLargeState()); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRun_WithoutCheckpointing baseline without checkpointing.
func BenchmarkRun_WithoutCheckpointing(b *testing.B) {
	strategy := mustBuildLarge(5)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		agent, err := agentgraph.NewAgent(ctx, strategy, quiet())
		if err != nil {
			b.Fatal(err)
		}
		if _, err := agent.Run(ctx, createLargeState()); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCheckpoint_Verify measures checksum verification.
func BenchmarkCheckpoint_Verify(b *testing.B) {
	m := persistence.NewManager(persistence.NewMemoryProvider(), "verify")
	cp, err := m.SaveCheckpoint(context.Background(), "s/node", "s/__start__", createLargeState(), history())
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cp.Verify(); err != nil {
			b.Fatal(err)
		}
	}
}

// Helper functions

func benchmarkSave(b *testing.B, store persistence.Provider) {
	b.Helper()
	defer persistence.Close(store)
	m := persistence.NewManager(store, "bench")
	ctx := context.Background()
	state, msgs := createLargeState(), history()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.SaveCheckpoint(ctx, "s/"+nodeID(i%100), "s/__start__", state, msgs); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLatest(b *testing.B, store persistence.Provider) {
	b.Helper()
	defer persistence.Close(store)
	m := persistence.NewManager(store, "bench")
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := m.SaveCheckpoint(ctx, "s/"+nodeID(i), "s/__start__", createLargeState(), history()); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Latest(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func sqliteProvider(b *testing.B) *persistence.SQLiteProvider {
	b.Helper()
	store, err := persistence.NewSQLiteProvider(context.Background(), filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	return store
}

func createLargeState() LargeState {
	s := LargeState{
		ID:     "test-id",
		Values: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		Metadata: map[string]string{
			"key1": "value1",
			"key2": "value2",
			"key3": "value3",
		},
	}
	s.Nested.A = "nested-a"
	s.Nested.B = 42
	s.Nested.C = []string{"c1", "c2", "c3"}
	return s
}

func history() []prompt.Message {
	return []prompt.Message{
		prompt.System("You are a benchmark."),
		prompt.User("Summarize the state."),
		prompt.Assistant("The state has ten values and three metadata keys."),
	}
}

func noopLarge(ctx agentgraph.Context, s LargeState) (LargeState, error) {
	return s, nil
}

func mustBuildLarge(n int) *agentgraph.Strategy {
	builder := agentgraph.NewStrategy[LargeState, LargeState]("large")
	for i := 0; i < n; i++ {
		builder.AddNode(agentgraph.NewNode(nodeID(i), noopLarge))
	}
	builder.AddEdge(agentgraph.StartNode, nodeID(0))
	for i := 0; i < n-1; i++ {
		builder.AddEdge(nodeID(i), nodeID(i+1))
	}
	builder.AddEdge(nodeID(n-1), agentgraph.FinishNode)
	return mustBuild(builder)
}
