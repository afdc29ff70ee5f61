package benchmarks

import (
	"testing"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
)

// State for benchmarks.
type State struct {
	Value int
}

// noopNode does minimal work to measure framework overhead.
func noopNode(ctx agentgraph.Context, s State) (State, error) {
	return s, nil
}

// BenchmarkNewStrategy measures builder creation overhead.
func BenchmarkNewStrategy(b *testing.B) {
	for i := 0; i < b.N; i++ {
		agentgraph.NewStrategy[State, State]("bench")
	}
}

// BenchmarkAddNode_10 measures adding 10 nodes.
func BenchmarkAddNode_10(b *testing.B) {
	for i := 0; i < b.N; i++ {
		builder := agentgraph.NewStrategy[State, State]("bench")
		for j := 0; j < 10; j++ {
			builder.AddNode(agentgraph.NewNode(nodeID(j), noopNode))
		}
	}
}

// BenchmarkAddNode_100 measures adding 100 nodes.
func BenchmarkAddNode_100(b *testing.B) {
	for i := 0; i < b.N; i++ {
		builder := agentgraph.NewStrategy[State, State]("bench")
		for j := 0; j < 100; j++ {
			builder.AddNode(agentgraph.NewNode(nodeID(j), noopNode))
		}
	}
}

// BenchmarkBuild_Linear_5 builds a 5-node linear strategy.
func BenchmarkBuild_Linear_5(b *testing.B) {
	benchmarkBuild(b, buildLinear(5))
}

// BenchmarkBuild_Linear_10 builds a 10-node linear strategy.
func BenchmarkBuild_Linear_10(b *testing.B) {
	benchmarkBuild(b, buildLinear(10))
}

// BenchmarkBuild_Linear_50 builds a 50-node linear strategy.
func BenchmarkBuild_Linear_50(b *testing.B) {
	benchmarkBuild(b, buildLinear(50))
}

// BenchmarkBuild_Linear_100 builds a 100-node linear strategy.
func BenchmarkBuild_Linear_100(b *testing.B) {
	benchmarkBuild(b, buildLinear(100))
}

// BenchmarkBuild_Branching builds a strategy with conditional edges.
func BenchmarkBuild_Branching(b *testing.B) {
	benchmarkBuild(b, buildBranching())
}

// Helper functions

func benchmarkBuild(b *testing.B, builder *agentgraph.Builder) {
	b.Helper()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(); err != nil {
			b.Fatal(err)
		}
	}
}

func nodeID(n int) string {
	return string(rune('a'+n%26)) + string(rune('0'+n/26%10))
}

func buildLinear(n int) *agentgraph.Builder {
	builder := agentgraph.NewStrategy[State, State]("linear")
	for i := 0; i < n; i++ {
		builder.AddNode(agentgraph.NewNode(nodeID(i), noopNode))
	}
	builder.AddEdge(agentgraph.StartNode, nodeID(0))
	for i := 0; i < n-1; i++ {
		builder.AddEdge(nodeID(i), nodeID(i+1))
	}
	builder.AddEdge(nodeID(n-1), agentgraph.FinishNode)
	return builder
}

func buildBranching() *agentgraph.Builder {
	even := agentgraph.When(func(_ agentgraph.Context, s State) bool { return s.Value%2 == 0 })

	return agentgraph.NewStrategy[State, State]("branching").
		AddNode(agentgraph.NewNode("first", noopNode)).
		AddNode(agentgraph.NewNode("even", noopNode)).
		AddNode(agentgraph.NewNode("odd", noopNode)).
		AddNode(agentgraph.NewNode("merge", noopNode)).
		AddEdge(agentgraph.StartNode, "first").
		AddEdge("first", "even", even).
		AddEdge("first", "odd").
		AddEdge("even", "merge").
		AddEdge("odd", "merge").
		AddEdge("merge", agentgraph.FinishNode)
}

func mustBuild(builder *agentgraph.Builder) *agentgraph.Strategy {
	s, err := builder.Build()
	if err != nil {
		panic(err)
	}
	return s
}
