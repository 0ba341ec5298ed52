package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/sonolive/internal/client/mirror"
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the session until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				out := newOutput(cmd.OutOrStdout(), ctx.flags.json)
				var last watchMark
				err := awaitView(runCtx, client.Mirror(), forever, func(v mirror.View) (bool, error) {
					mark := markOf(v, client.Connected())
					if mark == last {
						return false, nil
					}
					last = mark
					return false, out.watchFrame(v, mark.connected)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var source string
	var wait bool

	cmd := &cobra.Command{
		Use:   "start [seed...]",
		Short: "Start a run from library seeds or a personal source",
		RunE: func(cmd *cobra.Command, args []string) error {
			origin := discovery.CatalogueOrigin()
			if source = strings.TrimSpace(source); source != "" {
				origin = discovery.PersonalOrigin(source)
			}
			if err := origin.Validate(args); err != nil {
				return err
			}

			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				err := ctx.send(runCtx, client, discovery.ActionStart, "", func() error {
					return client.Start(args, origin)
				})
				if err != nil {
					return err
				}
				if wait {
					if err := ctx.awaitInitialLoad(runCtx, client); err != nil {
						return err
					}
				}
				return newOutput(cmd.OutOrStdout(), ctx.flags.json).session(client.Mirror().View())
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Seed from a personal source (lastfm, listenbrainz)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the initial load to finish")
	return cmd
}

func (c *commandContext) awaitInitialLoad(ctx context.Context, client *mirror.Client) error {
	err := awaitView(ctx, client.Mirror(), forever, func(v mirror.View) (bool, error) {
		return v.Pagination.InitialLoadComplete || v.State == discovery.StateIdle, nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				if client.Mirror().View().State == discovery.StateIdle {
					fmt.Fprintln(cmd.OutOrStdout(), "No run is active")
					return nil
				}
				return ctx.send(runCtx, client, discovery.ActionStop, "", client.Stop)
			})
		},
	}
}

func newLoadMoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "load-more",
		Short: "Fetch the next page of candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				if err := ctx.send(runCtx, client, discovery.ActionLoadMore, "", client.LoadMore); err != nil {
					return err
				}
				return newOutput(cmd.OutOrStdout(), ctx.flags.json).session(client.Mirror().View())
			})
		},
	}
}

func newPromptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <text...>",
		Short: "Start a run from a free-text description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return discovery.NewEmptyPromptError()
			}
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				return ctx.send(runCtx, client, discovery.ActionPromptSeed, "", func() error {
					return client.PromptSeed(prompt)
				})
			})
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "search <artist...>",
		Short: "Start a run from the artists MusicBrainz finds for a name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return discovery.NewEmptyQueryError()
			}
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				return ctx.send(runCtx, client, discovery.ActionSearchSeed, "", func() error {
					return client.SearchSeed(query)
				})
			})
		},
	}
}

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "Refresh and show personal source availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				if err := ctx.send(runCtx, client, discovery.ActionPollSources, "", client.PollPersonalSources); err != nil {
					return err
				}
				return newOutput(cmd.OutOrStdout(), ctx.flags.json).sources(client.Mirror().View().Sources)
			})
		},
	}
}

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "library",
		Short: "List the artists already in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
				if err := ctx.send(runCtx, client, discovery.ActionListLibrary, "", client.ListLibrary); err != nil {
					return err
				}
				return newOutput(cmd.OutOrStdout(), ctx.flags.json).library(client.Mirror().View().Library)
			})
		},
	}
}

// newCandidateCommands builds the commands that target one candidate by
// name.
func newCandidateCommands(ctx *commandContext) []*cobra.Command {
	type candidateCmd struct {
		use   string
		short string
		kind  discovery.ActionKind
		issue func(*mirror.Client, string) error
		show  func(output, *mirror.Mirror, string) error
	}

	defs := []candidateCmd{
		{
			use:   "add <artist>",
			short: "Add a candidate to the library (admin)",
			kind:  discovery.ActionAddToLibrary,
			issue: (*mirror.Client).AddToLibrary,
			show:  output.candidateStatus,
		},
		{
			use:   "request <artist>",
			short: "Ask an administrator to add a candidate",
			kind:  discovery.ActionRequestArtist,
			issue: (*mirror.Client).RequestArtist,
			show:  output.candidateStatus,
		},
		{
			use:   "preview <artist>",
			short: "Show a candidate's biography",
			kind:  discovery.ActionFetchPreview,
			issue: (*mirror.Client).FetchPreview,
			show:  output.preview,
		},
		{
			use:   "sample <artist>",
			short: "Find a playable sample for a candidate",
			kind:  discovery.ActionFetchSample,
			issue: (*mirror.Client).FetchSample,
			show:  output.sample,
		},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, s := range defs {
		cmds = append(cmds, &cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				identity := discovery.NormalizeIdentity(strings.Join(args, " "))
				if identity == "" {
					return discovery.NewValidationError("artist name is required")
				}
				return ctx.withSession(cmd.Context(), func(runCtx context.Context, client *mirror.Client) error {
					err := ctx.send(runCtx, client, s.kind, identity, func() error {
						return s.issue(client, identity)
					})
					if err != nil {
						return err
					}
					return s.show(newOutput(cmd.OutOrStdout(), ctx.flags.json), client.Mirror(), identity)
				})
			},
		})
	}
	return cmds
}
