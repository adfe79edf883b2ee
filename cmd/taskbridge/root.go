package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/utsync/taskbridge/internal/apply"
	"github.com/utsync/taskbridge/internal/config"
	"github.com/utsync/taskbridge/internal/engine"
	"github.com/utsync/taskbridge/internal/logging"
	"github.com/utsync/taskbridge/internal/plugin"
	"github.com/utsync/taskbridge/internal/plugin/jsonfile"
	"github.com/utsync/taskbridge/internal/plugin/taskwarrior"
	"github.com/utsync/taskbridge/internal/proposal"
	"github.com/utsync/taskbridge/internal/semantic"
	"github.com/utsync/taskbridge/internal/server"
	"github.com/utsync/taskbridge/internal/store"
	"github.com/utsync/taskbridge/internal/updater"
)

// app bundles the wired runtime the commands share.
type app struct {
	paths    config.Paths
	settings config.Settings
	store    *store.Store
	plugins  *plugin.Registry
	engine   *engine.Engine
	log      *zap.Logger
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// newApp resolves paths, loads settings, opens the state database and
// registers the configured plugins.
func newApp(verbose bool) (*app, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}

	// Defaults are static per plugin, so throwaway instances suffice to
	// seed the settings manifest.
	pluginDefaults := map[string]map[string]string{
		taskwarrior.ToolName: taskwarrior.New("", "").ConfigDefaults(),
		jsonfile.ToolName:    jsonfile.New("").ConfigDefaults(),
	}
	settings, err := config.LoadSettings(paths.SettingsFile, pluginDefaults)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(verbose)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(paths.StateDB)
	if err != nil {
		return nil, err
	}

	plugins := plugin.NewRegistry()
	if err := plugins.Register(taskwarrior.New(
		settings.Get("tw.command", "task"),
		settings.Get("tw.filter", ""))); err != nil {
		st.Close()
		return nil, err
	}
	if path := settings.Get("json.path", ""); path != "" {
		if err := plugins.Register(jsonfile.New(path)); err != nil {
			st.Close()
			return nil, err
		}
	}

	timeout, err := time.ParseDuration(settings.Get("decision_timeout", "120s"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("parsing decision_timeout: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Plugins:         plugins,
		Store:           st,
		DecisionTimeout: timeout,
		Log:             log,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		paths:    paths,
		settings: settings,
		store:    st,
		plugins:  plugins,
		engine:   eng,
		log:      log,
	}, nil
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "taskbridge",
		Short: "Semantic task-synchronization bridge",
		Long: "taskbridge links task tools through a shared vocabulary of semantic\n" +
			"entities. Unknown tool concepts are never classified automatically:\n" +
			"they become proposals, and only recorded decisions change mappings.",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSyncCmd(&verbose),
		newServeCmd(&verbose),
		newStatusCmd(&verbose),
		newProposalsCmd(&verbose),
		newDecideCmd(&verbose),
		newConfigCmd(&verbose),
		newUpdateCmd(),
	)
	return root
}

func newSyncCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one mediation pass across all configured tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.engine.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Concepts observed:  %d\n", report.EntitiesObserved)
			fmt.Fprintf(out, "Tasks normalized:   %d\n", report.TasksNormalized)
			fmt.Fprintf(out, "Proposals reopened: %d\n", report.Reopened)
			fmt.Fprintf(out, "Proposals opened:   %d\n", report.ProposalsOpened)
			if len(report.FailedTools) > 0 {
				failed := append([]string(nil), report.FailedTools...)
				sort.Strings(failed)
				fmt.Fprintf(out, "Failed tools:       %s\n", strings.Join(failed, ", "))
			}
			for _, d := range report.Failed() {
				fmt.Fprintf(out, "decision %s failed: %v\n", d.ProposalID, d.Err)
			}
			if report.ProposalsOpened > 0 {
				fmt.Fprintln(out, "\nReview pending proposals with `taskbridge proposals`.")
			}
			return nil
		},
	}
}

func newServeCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			s, err := server.New(server.Options{
				Store:   a.store,
				Plugins: a.plugins,
				Engine:  a.engine,
				Log:     a.log,
			})
			if err != nil {
				return err
			}

			// Background version check prints to stderr so it cannot
			// interfere with the stdio transport on stdout.
			go func() {
				result := updater.CheckVersion(server.Version)
				if result.UpdateAvailable {
					fmt.Fprintf(os.Stderr,
						"\n  Update available: v%s -> v%s\n  Run: taskbridge update\n\n",
						result.CurrentVersion, result.LatestVersion)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				os.Exit(0)
			}()

			return mcpserver.ServeStdio(s)
		},
	}
}

func newStatusCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vocabulary, projects and pending work",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			gc, err := a.store.LoadGlobal()
			if err != nil {
				return err
			}
			projects, err := a.store.ListProjects()
			if err != nil {
				return err
			}
			pending, err := a.store.ProposalsByState(proposal.StateOpen, proposal.StateDeferred)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Vocabulary version: %d\n", gc.Version)
			fmt.Fprintf(out, "Plugins:            %s\n", strings.Join(a.plugins.Names(), ", "))
			fmt.Fprintf(out, "Projects:           %d\n", len(projects))
			fmt.Fprintf(out, "Pending proposals:  %d\n", len(pending))

			if len(gc.Entities) > 0 {
				fmt.Fprintln(out, "\nEntities:")
				byRole := make(map[semantic.Role][]string)
				for _, e := range gc.Entities {
					byRole[e.Role] = append(byRole[e.Role], e.ID)
				}
				for _, role := range semantic.AllRoles() {
					ids := byRole[role]
					if len(ids) == 0 {
						continue
					}
					sort.Strings(ids)
					fmt.Fprintf(out, "  %-10s %s\n", role, strings.Join(ids, ", "))
				}
			}
			return nil
		},
	}
}

func newProposalsCmd(verbose *bool) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "List proposals awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			states := []proposal.State{proposal.StateOpen, proposal.StateDeferred}
			if state != "" {
				states = []proposal.State{proposal.State(state)}
			}
			props, err := a.store.ProposalsByState(states...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(props) == 0 {
				fmt.Fprintln(out, "No pending proposals. Run `taskbridge sync` to refresh discovery.")
				return nil
			}
			for _, p := range props {
				role := string(p.CandidateRole)
				if role == "" {
					role = "?"
				}
				fmt.Fprintf(out, "%s  %s/%s  reason=%s role=%s suggest=%s projects=%s state=%s\n",
					p.ID, p.Tool, p.RawConceptID, p.Reason, role, p.SuggestedEntityID,
					strings.Join(p.AffectedProjects, ","), p.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state: open, deferred, accepted, ignored")
	return cmd
}

func newDecideCmd(verbose *bool) *cobra.Command {
	var (
		outcome     string
		project     string
		entityID    string
		role        string
		description string
	)
	cmd := &cobra.Command{
		Use:   "decide <proposal-id>",
		Short: "Resolve one proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.store.Proposal(args[0])
			if err != nil {
				return err
			}

			d := proposal.Decision{
				ProposalID: p.ID,
				ProjectID:  project,
				Outcome:    proposal.Outcome(outcome),
				EntityID:   entityID,
				DecidedAt:  time.Now().UTC(),
			}
			if d.Outcome == proposal.OutcomeCreateNew {
				d.Entity = &semantic.Entity{
					ID:          entityID,
					Role:        semantic.Role(role),
					Description: description,
				}
				d.EntityID = ""
			}

			gc, err := a.store.LoadGlobal()
			if err != nil {
				return err
			}
			var pc *config.ProjectConfig
			if project != "" {
				if pc, err = a.store.LoadProject(project); err != nil {
					return err
				}
			}

			if _, _, err := apply.New(a.store).Apply(p, d, gc, pc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s to proposal %s.\n", d.Outcome, p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", string(proposal.OutcomeDefer),
		"accept, create-new, ignore or defer")
	cmd.Flags().StringVar(&project, "project", "", "project the decision applies to")
	cmd.Flags().StringVar(&entityID, "entity", "", "target entity id")
	cmd.Flags().StringVar(&role, "role", "", "role for create-new: label, container, status, priority")
	cmd.Flags().StringVar(&description, "description", "", "description for create-new")
	return cmd
}

func newConfigCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one setting, or all when no key is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*verbose)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				fmt.Fprintln(out, a.settings.Get(args[0], ""))
				return nil
			}
			keys := make([]string, 0, len(a.settings))
			for k := range a.settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s = %s\n", k, a.settings[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := config.DefaultPaths()
			if err != nil {
				return err
			}
			return config.SaveSetting(paths.SettingsFile, args[0], args[1])
		},
	})

	return cmd
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update taskbridge to the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := updater.CheckVersion(server.Version)
			if !result.UpdateAvailable {
				fmt.Fprintf(cmd.OutOrStdout(), "Already at the latest version (v%s)\n", result.CurrentVersion)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updating v%s -> v%s...\n",
				result.CurrentVersion, result.LatestVersion)
			if err := updater.SelfUpdate(server.Version); err != nil {
				return fmt.Errorf("update failed (download manually from %s): %w", result.ReleaseURL, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Updated. Restart taskbridge to use the new version.")
			return nil
		},
	}
}
