package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"boligping/config"
	"boligping/storage"
)

// cliOptions holds the raw flag values. Only flags the user set override
// the configuration.
type cliOptions struct {
	configPath    string
	envFile       string
	cities        []string
	queries       []string
	propertyTypes []string
	emails        []string
	source        string
	provider      string
	journal       string
	metricsFile   string
	logFormat     string
	noCache       bool
	noHeadless    bool
	cache         bool
	headless      bool
	verbose       bool
}

// rangeFlags maps flag names to the bound they set.
var rangeFlags = []struct {
	name  string
	usage string
	bound func(s *config.Search) **int
}{
	{"min-price", "minimum price in DKK", func(s *config.Search) **int { return &s.Price.Min }},
	{"max-price", "maximum price in DKK", func(s *config.Search) **int { return &s.Price.Max }},
	{"min-monthly-fee", "minimum monthly fee in DKK", func(s *config.Search) **int { return &s.MonthlyFee.Min }},
	{"max-monthly-fee", "maximum monthly fee in DKK", func(s *config.Search) **int { return &s.MonthlyFee.Max }},
	{"min-rooms", "minimum number of rooms", func(s *config.Search) **int { return &s.Rooms.Min }},
	{"max-rooms", "maximum number of rooms", func(s *config.Search) **int { return &s.Rooms.Max }},
	{"min-size", "minimum size in m²", func(s *config.Search) **int { return &s.Size.Min }},
	{"max-size", "maximum size in m²", func(s *config.Search) **int { return &s.Size.Max }},
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root, _ := buildRootCmd(stdout, stderr)
	return root
}

func buildRootCmd(stdout, stderr io.Writer) (*cobra.Command, *cliOptions) {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "boligping",
		Short: "Get notified about new homes on boligsiden.dk",
		Long: `boligping searches boligsiden.dk, skips homes it has already reported and
sends the rest by email. Without --email the homes are printed instead.

Credentials are read from the environment or a .env file: GMAIL_EMAIL and
GMAIL_PASSWORD for SMTP, GOOGLE_CREDENTIALS_JSON for the Gmail API and
BREVO_API_KEY for Brevo.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, true)
			if err != nil {
				return err
			}
			logger := newLogger(stderr, cfg.LogFormat, opts.verbose)
			return runSearch(cmd.Context(), cfg, logger, stdout)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to config file (default "+config.DefaultConfigPath()+")")
	pf.StringVar(&opts.envFile, "env-file", ".env", "file with credentials, loaded if present")
	pf.StringVar(&opts.journal, "journal", "", "journal location: a file path, gs://bucket/object or sqlite://path (default "+storage.DefaultPath+")")

	f := root.Flags()
	f.StringArrayVarP(&opts.cities, "city", "c", nil, "city or area to search in (repeatable)")
	f.StringArrayVarP(&opts.queries, "query", "q", nil, "keyword the description must contain (repeatable, any matches)")
	f.StringArrayVarP(&opts.propertyTypes, "property-type", "t", nil, "property type (repeatable)")
	f.StringArrayVarP(&opts.emails, "email", "e", nil, "recipient email address (repeatable)")
	for _, rf := range rangeFlags {
		f.Int(rf.name, 0, rf.usage)
	}
	f.BoolVar(&opts.cache, "cache", true, "skip homes already reported and record new ones")
	f.BoolVar(&opts.noCache, "no-cache", false, "report every matching home and do not record anything")
	f.BoolVar(&opts.headless, "headless", true, "run the browser without a window")
	f.BoolVar(&opts.noHeadless, "no-headless", false, "show the browser window")
	f.StringVar(&opts.source, "source", "", "where to search: web or api")
	f.StringVar(&opts.provider, "provider", "", "email provider: smtp, gmail, brevo or console")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newVersionCmd(), newJournalCmd(opts))
	return root, opts
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "boligping %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newJournalCmd(opts *cliOptions) *cobra.Command {
	journal := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the notification journal",
	}
	journal.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show how many homes were sent to each recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts, false)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, opts.verbose)

			j, err := storage.Open(cmd.Context(), cfg.Journal, logger)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()

			st, err := j.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Journal: %s\n", st.Location)
			fmt.Fprintf(out, "Entries: %d\n", st.Entries)
			fmt.Fprintf(out, "Homes: %d\n", st.Listings)
			for _, r := range st.Recipients() {
				fmt.Fprintf(out, "  %s: %d\n", r, st.PerRecipient[r])
			}
			return nil
		},
	})
	return journal
}

// loadConfig layers the flags the user set over the loaded configuration.
// Commands that search or notify validate the result.
func loadConfig(cmd *cobra.Command, opts *cliOptions, validate bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("city") {
		cfg.Search.Cities = opts.cities
	}
	if changed("query") {
		cfg.Search.Keywords = opts.queries
	}
	if changed("property-type") {
		cfg.Search.PropertyTypes = opts.propertyTypes
	}
	if changed("email") {
		cfg.Recipients = opts.emails
	}
	for _, rf := range rangeFlags {
		if !changed(rf.name) {
			continue
		}
		v, err := cmd.Flags().GetInt(rf.name)
		if err != nil {
			return nil, err
		}
		*rf.bound(&cfg.Search) = &v
	}
	if changed("cache") {
		cfg.Cache = opts.cache
	}
	if opts.noCache {
		cfg.Cache = false
	}
	if changed("headless") {
		cfg.Headless = opts.headless
	}
	if opts.noHeadless {
		cfg.Headless = false
	}
	if changed("source") {
		cfg.Source = opts.source
	}
	if changed("provider") {
		cfg.Provider = opts.provider
	}
	if changed("journal") {
		cfg.Journal = opts.journal
	}
	if changed("metrics-file") {
		cfg.MetricsFile = opts.metricsFile
	}
	if changed("log-format") {
		cfg.LogFormat = opts.logFormat
	}

	if !validate {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
