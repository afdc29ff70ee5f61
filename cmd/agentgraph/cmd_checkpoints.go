package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

func newCheckpointsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoints",
		Aliases: []string{"cp"},
		Short:   "List, inspect and remove agent checkpoints",
	}
	cmd.AddCommand(
		newListCmd(g),
		newInspectCmd(g),
		newDeleteCmd(g),
		newCleanupCmd(g),
	)
	return cmd
}

// withStore opens the store, runs fn and closes the store.
func withStore(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, store persistence.Provider) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, logger, err := g.openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := persistence.Close(store); err != nil {
			logger.Warn("close checkpoint store", "error", err)
		}
	}()
	return fn(ctx, store)
}

func newListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list AGENT_ID",
		Short: "List an agent's checkpoint chain, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(ctx context.Context, store persistence.Provider) error {
				cps, err := store.GetCheckpoints(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(cps) == 0 {
					fmt.Fprintf(out, "No checkpoints for agent %s\n", args[0])
					return nil
				}
				t := newTable(out, "Version", "ID", "Node", "Previous", "Created", "Input", "Messages", "Tombstone", "Checksum")
				for _, cp := range cps {
					t.AppendRow([]any{
						cp.Version, cp.ID, cp.NodeID, cp.PrevNodeID,
						cp.CreatedAt.Local().Format(time.DateTime),
						humanSize(len(cp.LastInput)), len(cp.MessageHistory),
						yesNo(cp.Tombstone), checksumStatus(cp),
					})
				}
				render(t, g.markdown)
				return nil
			})
		},
	}
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect AGENT_ID [CHECKPOINT_ID]",
		Short: "Show one checkpoint; the latest when no id is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, g, func(ctx context.Context, store persistence.Provider) error {
				cp, err := findCheckpoint(ctx, store, args)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					data, err := cp.Marshal()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, string(data))
					return err
				}
				printCheckpoint(out, cp, g.markdown)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw checkpoint record")
	return cmd
}

func findCheckpoint(ctx context.Context, store persistence.Provider, args []string) (*persistence.Checkpoint, error) {
	agentID := args[0]
	if len(args) == 1 {
		cp, err := store.GetLatestCheckpoint(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if cp == nil {
			return nil, fmt.Errorf("%w: agent %s has no checkpoints", persistence.ErrNotFound, agentID)
		}
		return cp, nil
	}
	cps, err := store.GetCheckpoints(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, cp := range cps {
		if cp.ID == args[1] {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", persistence.ErrNotFound, args[1])
}

func printCheckpoint(out io.Writer, cp *persistence.Checkpoint, md bool) {
	fmt.Fprintf(out, "Checkpoint: %s\n", cp.ID)
	fmt.Fprintf(out, "Agent:      %s\n", cp.AgentID)
	fmt.Fprintf(out, "Version:    %d\n", cp.Version)
	fmt.Fprintf(out, "Created:    %s\n", cp.CreatedAt.Local().Format(time.RFC3339))
	if cp.Tombstone {
		fmt.Fprintf(out, "Tombstone:  run finished after %s\n", cp.PrevNodeID)
	} else {
		fmt.Fprintf(out, "Resume at:  %s\n", cp.NodeID)
		fmt.Fprintf(out, "Previous:   %s\n", cp.PrevNodeID)
		fmt.Fprintf(out, "Input:      %s\n", string(cp.LastInput))
	}
	fmt.Fprintf(out, "Checksum:   %s\n", checksumStatus(cp))

	if len(cp.MessageHistory) == 0 {
		fmt.Fprintln(out, "History:    empty")
		return
	}
	fmt.Fprintf(out, "History:    %d messages\n", len(cp.MessageHistory))
	t := newTable(out, "#", "Kind", "Content")
	for i, m := range cp.MessageHistory {
		t.AppendRow([]any{i + 1, m.Kind, summarize(m)})
	}
	render(t, md)
}

func checksumStatus(cp *persistence.Checkpoint) string {
	if err := cp.Verify(); err != nil {
		return "BAD"
	}
	return "ok"
}

const maxContent = 60

func summarize(m prompt.Message) string {
	var s string
	switch m.Kind {
	case prompt.KindToolCall:
		if m.ToolCall != nil {
			s = m.ToolCall.Name + " " + string(m.ToolCall.Arguments)
		}
	case prompt.KindToolResult:
		if m.ToolResult != nil {
			s = m.ToolResult.Name + ": " + m.ToolResult.Content
			if m.ToolResult.Failure != nil {
				s = m.ToolResult.Name + " failed (" + string(m.ToolResult.Failure.Kind) + ")"
			}
		}
	default:
		s = m.Content
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxContent {
		s = s[:maxContent-3] + "..."
	}
	return s
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "delete AGENT_ID [CHECKPOINT_ID]",
		Short: "Delete one checkpoint, or the whole chain with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 2) {
				return errors.New("give either a checkpoint id or --all")
			}
			return withStore(cmd, g, func(ctx context.Context, store persistence.Provider) error {
				out := cmd.OutOrStdout()
				if all {
					if err := store.DeleteAllCheckpoints(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(out, "Deleted all checkpoints of agent %s\n", args[0])
					return nil
				}
				if err := store.DeleteCheckpoint(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted checkpoint %s\n", args[1])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every checkpoint of the agent")
	return cmd
}

func newCleanupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove checkpoints older than the configured TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(ctx context.Context, store persistence.Provider) error {
				if err := store.CleanupExpired(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Expired checkpoints removed")
				return nil
			})
		},
	}
}
