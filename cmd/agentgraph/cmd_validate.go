package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/definition"
)

func newValidateCmd(g *globalFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check strategy definition files",
		Long: "Checks each definition's fields, expressions, prompt templates and graph shape.\n" +
			"Node and edge types are checked when the program compiles the definition\n" +
			"against its catalog.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.agentConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			out := cmd.OutOrStdout()

			failed := 0
			for _, path := range args {
				d, err := definition.Load(path)
				if err == nil {
					err = definition.CheckShape(d, definition.WithLogger(logger))
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: invalid\n%v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok (%s, %d nodes, %d edges)\n", path, d.Name, len(d.Nodes), len(d.Edges))
				if !quiet {
					describe(out, d, g.markdown)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the verdict per file")
	return cmd
}

func describe(out io.Writer, d *definition.Definition, md bool) {
	nodes := newTable(out, "Node", "Kind", "Use", "Prompt")
	for _, n := range d.Nodes {
		nodes.AppendRow([]any{n.Name, n.Kind, n.Use, n.Prompt})
	}
	render(nodes, md)

	edges := newTable(out, "From", "To", "Condition", "Transform")
	for _, e := range d.Edges {
		cond := e.When
		if e.On != "" {
			cond = "on " + e.On
		}
		edges.AppendRow([]any{e.From, e.To, cond, e.Transform})
	}
	render(edges, md)
}
