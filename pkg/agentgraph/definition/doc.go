/*
Package definition builds strategies from YAML or JSON files.

A definition names its nodes and edges; Go code supplies anything that is
not built in through a Catalog:

	name: triage
	nodes:
	  - name: classify
	    use: classifier          # catalog node factory
	  - name: draft
	    kind: llm
	    prompt: "Write a ${input.kind} reply to: ${input.text}"
	edges:
	  - from: __start__
	    to: classify
	  - from: classify
	    to: draft
	    when: "output.kind != 'spam'"
	  - from: classify
	    to: __finish__
	    transform: spamNotice    # catalog transform
	  - from: draft
	    to: __finish__
	    on: assistant_message
	agent:
	  max_iterations: 20
	  tool_mode: sequential

Compile resolves catalog references and builds the strategy with the usual
type checks:

	cat := definition.NewCatalog()
	cat.AddNode("classifier", newClassifier)
	cat.AddTransform("spamNotice", agentgraph.Transform(spamNotice))

	d, err := definition.Load("triage.yaml")
	strategy, err := definition.Compile[Ticket, string](d, cat)

Edge conditions are expr expressions evaluated against the source node's
output, converted to plain maps and slices via its JSON form, under
"output". Prompt templates see the node input under "input".
*/
package definition
