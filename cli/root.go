package cli

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/homemade/rallylink/sync"
)

// RootOptions holds the flags of the rallylink command.
type RootOptions struct {
	Workspace  string
	Project    string
	APIKey     string
	CSVFile    string
	ConfigFile string
	Encoding   string
	RecordPath string
	DryRun     bool

	// NewAPI allows overriding the Rally client (for testing).
	// If nil, defaults to sync.NewRallyFetcherAndUpdater.
	NewAPI func(sc *sync.SyncContext) sync.RallyAPI

	// Env allows overriding the environment used to expand config files (for testing).
	Env sync.EnvironmentLookup
}

// NewRootCommand creates the rallylink command.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithOptions(&RootOptions{})
}

// NewRootCommandWithOptions creates the rallylink command bound to opts.
func NewRootCommandWithOptions(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rallylink",
		Short: "Link Rally stories to features from a CSV file",
		Long: `Link Rally user stories to their parent features.

Each line of the CSV file holds the external id of a story and the external
id of the feature it belongs to, separated by a comma. Both are looked up in
the given workspace and project and the story's PortfolioItem is set to the
feature.

Example:
  rallylink -w "My Workspace" -p "My Project" -k $RALLY_API_KEY -c links.csv
  rallylink -w ws -p proj -k key -c links.csv --dry-run`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// flags are valid, don't print usage for failures from here on
			cmd.SilenceUsage = true
			return runLink(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Workspace, "workspace", "w", "", "workspace name (required)")
	cmd.Flags().StringVarP(&opts.Project, "project", "p", "", "project name (required)")
	cmd.Flags().StringVarP(&opts.APIKey, "apikey", "k", "", "Rally API key (required)")
	cmd.Flags().StringVarP(&opts.CSVFile, "csvfile", "c", "", "csv file of story,feature external ids (required)")
	for _, name := range []string{"workspace", "project", "apikey", "csvfile"} {
		_ = cmd.MarkFlagRequired(name)
	}
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "yaml file merged over the built-in defaults")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", "utf-8", fmt.Sprintf("csv file encoding (%s)", strings.Join(sync.SupportedEncodings, "|")))
	cmd.Flags().StringVar(&opts.RecordPath, "record", "", "record HTTP requests and responses below this directory")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "look up records but do not update them")

	return cmd
}

func runLink(opts *RootOptions, cmd *cobra.Command) error {
	runID := uuid.New().String()
	logger := log.New(cmd.ErrOrStderr(), fmt.Sprintf("[%s] ", runID[:8]), log.LstdFlags|log.Lmsgprefix)

	configOpts := []sync.ConfigOption{
		sync.ConfigWithFile(opts.ConfigFile),
		sync.ConfigWithAPIKey(opts.APIKey),
	}
	if opts.Env != nil {
		configOpts = append(configOpts, sync.ConfigWithEnvironment(opts.Env))
	}
	config, err := sync.LoadConfig(configOpts...)
	if err != nil {
		return WrapExitError(ExitUsage, "failed to load config", err)
	}

	sc := &sync.SyncContext{
		Config:     config,
		Logger:     logger,
		RunID:      runID,
		RecordPath: opts.RecordPath,
		DryRun:     opts.DryRun,
	}

	pairs, readErr := sync.ExtractPairs(opts.CSVFile, opts.Encoding, logger)
	switch {
	case errors.Is(readErr, sync.ErrUnsupportedEncoding):
		return WrapExitError(ExitUsage, "invalid --encoding", readErr)
	case errors.Is(readErr, sync.ErrCSVNotFound):
		logger.Printf("Could not find the csv file: %s", opts.CSVFile)
		return WrapExitError(ExitCSVNotFound, "failed to open csv file", readErr)
	case readErr != nil:
		logger.Printf("Warning: could not read the csv file: %v", readErr)
	}
	if len(pairs) == 0 {
		logger.Printf("No pairs found in %s", opts.CSVFile)
		return nil
	}
	logger.Printf("Read %d pairs from %s", len(pairs), opts.CSVFile)

	var api sync.RallyAPI
	if opts.NewAPI != nil {
		api = opts.NewAPI(sc)
	} else {
		api = sync.NewRallyFetcherAndUpdater(sc)
	}
	linker := sync.NewLinker(sc, api)
	ctx := cmd.Context()

	scope, err := linker.ResolveScope(opts.Workspace, opts.Project, ctx)
	if err != nil {
		logger.Printf("Could not resolve workspace and project: %v", err)
		return WrapExitError(ExitScopeFailed, "failed to resolve workspace and project", err)
	}

	summary, err := linker.LinkAll(pairs, scope, ctx)
	if err != nil {
		logger.Printf("encountered exception: %v", err)
		return WrapExitError(ExitTransportFailed, "linking aborted", err)
	}
	if readErr != nil {
		logger.Printf("Warning: csv file was not read completely, %s covers only the lines before: %v", summary, readErr)
	}
	return nil
}
