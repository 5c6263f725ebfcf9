package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"

	"github.com/maloquacious/pagestore/internal/catalog"
	"github.com/maloquacious/pagestore/internal/config"
	"github.com/maloquacious/pagestore/internal/logger"
	"github.com/maloquacious/pagestore/internal/page"
	"github.com/maloquacious/pagestore/internal/pageimages"
	"github.com/maloquacious/pagestore/internal/savedpages"
	"github.com/maloquacious/pagestore/internal/store"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	configPath string
	dataDir    string
	debug      bool
	namespace  string
	lang       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "app",
		Short:         "Offline page cache store and admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./"+config.FileName+" when present)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding the database and saved pages")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build and schema versions",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}

	// db command group
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and initialize the datastore",
		Args:  cobra.NoArgs,
		RunE:  runDBCreate,
	}
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply migrations to current schema version",
		Args:  cobra.NoArgs,
		RunE:  runDBUpgrade,
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema integrity and version",
		Args:  cobra.NoArgs,
		RunE:  runDBVerify,
	}
	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd)

	// thumbs command group
	thumbsCmd := &cobra.Command{
		Use:   "thumbs",
		Short: "Page thumbnail cache",
	}
	thumbsSetCmd := &cobra.Command{
		Use:   "set <site> <title> <image>",
		Short: "Record the thumbnail of a page",
		Args:  cobra.ExactArgs(3),
		RunE:  runThumbsSet,
	}
	thumbsGetCmd := &cobra.Command{
		Use:   "get <site> <title>",
		Short: "Print the thumbnail of a page",
		Args:  cobra.ExactArgs(2),
		RunE:  runThumbsGet,
	}
	thumbsFindCmd := &cobra.Command{
		Use:   "find <title>",
		Short: "Print the thumbnail stored for a title on any site",
		Args:  cobra.ExactArgs(1),
		RunE:  runThumbsFind,
	}
	thumbsCmd.AddCommand(thumbsSetCmd, thumbsGetCmd, thumbsFindCmd)

	// pages command group
	pagesCmd := &cobra.Command{
		Use:   "pages",
		Short: "Pages saved for offline reading",
	}
	pagesSaveCmd := &cobra.Command{
		Use:   "save <site> <title> <file|->",
		Short: "Save a page payload",
		Args:  cobra.ExactArgs(3),
		RunE:  runPagesSave,
	}
	pagesLsCmd := &cobra.Command{
		Use:   "ls [site]",
		Short: "List saved pages",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPagesLs,
	}
	pagesExistsCmd := &cobra.Command{
		Use:   "exists <site> <title>",
		Short: "Exit non-zero unless the page is saved",
		Args:  cobra.ExactArgs(2),
		RunE:  runPagesExists,
	}
	pagesCatCmd := &cobra.Command{
		Use:   "cat <site> <title>",
		Short: "Print a saved page payload",
		Args:  cobra.ExactArgs(2),
		RunE:  runPagesCat,
	}
	pagesCmd.AddCommand(pagesSaveCmd, pagesLsCmd, pagesExistsCmd, pagesCatCmd)

	for _, cmd := range []*cobra.Command{thumbsCmd, pagesCmd} {
		cmd.PersistentFlags().StringVar(&namespace, "namespace", "", "page namespace")
		cmd.PersistentFlags().StringVar(&lang, "lang", "", "site language (default: first label of the site)")
	}

	rootCmd.AddCommand(versionCmd, dbCmd, thumbsCmd, pagesCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies the global flags on top of the file and environment settings.
func loadConfig() (config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debug {
		cfg.Debug = true
	}
	return cfg, logger.New(os.Stderr, cfg.Debug), nil
}

func openCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	exists, err := store.CheckExists(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no datastore at %s; run \"app db create\"", cfg.DBPath())
	}
	return catalog.Open(cmd.Context(), cfg, log)
}

func titleArg(site, text string) page.Title {
	return page.NewTitle(namespace, text, page.NewSite(site, lang))
}

func runVersion(cmd *cobra.Command, args []string) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
		"version":       version.String(),
		"schemaVersion": catalog.CurrentVersion,
		"buildDate":     buildDate,
	})
}

// --- db commands ---

func runDBCreate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	exists, err := store.CheckExists(cfg.DBPath())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("datastore already exists at %s", cfg.DBPath())
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	c, err := catalog.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	log.Info("created %s at schema version %d", cfg.DBPath(), catalog.CurrentVersion)
	return nil
}

func runDBUpgrade(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	exists, err := store.CheckExists(cfg.DBPath())
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no datastore at %s", cfg.DBPath())
	}

	s := catalog.NewStore(cfg, log)
	if err := s.Connect(cmd.Context()); err != nil {
		return err
	}
	defer s.Close()

	from, err := s.SchemaVersion(cmd.Context())
	if err != nil {
		return err
	}
	if err := s.Upgrade(cmd.Context()); err != nil {
		return err
	}
	log.Info("schema upgraded from version %d to %d", from, s.Version())
	return nil
}

func runDBVerify(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	summary := map[string]any{
		"path":           cfg.DBPath(),
		"currentVersion": catalog.CurrentVersion,
	}

	exists, err := store.CheckExists(cfg.DBPath())
	if err != nil {
		return err
	}
	if !exists {
		summary["state"] = store.StateMissing.String()
		_ = json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
		return errors.New("datastore missing")
	}

	s := catalog.NewStore(cfg, log)
	if err := s.ConnectReadOnly(cmd.Context()); err != nil {
		return err
	}
	defer s.Close()

	state, err := s.CheckState(cmd.Context())
	if err != nil {
		return err
	}
	schemaVersion, err := s.SchemaVersion(cmd.Context())
	if err != nil {
		return err
	}
	problems, err := s.Verify(cmd.Context())
	if err != nil {
		return err
	}

	summary["state"] = state.String()
	summary["schemaVersion"] = schemaVersion
	summary["problems"] = problems
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(summary); err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("schema verification found %d problem(s)", len(problems))
	}
	return nil
}

// --- thumbs commands ---

func runThumbsSet(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Images.Upsert(cmd.Context(), pageimages.PageImage{
		Title:     titleArg(args[0], args[1]),
		ImageName: args[2],
	})
}

func runThumbsGet(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	img, ok, err := c.Images.SelectExact(cmd.Context(), c.Images.Definition().Key(pageimages.PageImage{Title: titleArg(args[0], args[1])})...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no thumbnail for %q", args[1])
	}
	fmt.Fprintln(cmd.OutOrStdout(), img.ImageName)
	return nil
}

func runThumbsFind(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	name, ok, err := pageimages.ImageNameForTitle(cmd.Context(), c.Images, page.NewTitle(namespace, args[0], page.Site{}))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no thumbnail for %q", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), name)
	return nil
}

// --- pages commands ---

func runPagesSave(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	var payload io.Reader = cmd.InOrStdin()
	if args[2] != "-" {
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()
		payload = f
	}
	return c.Pages.Save(cmd.Context(), titleArg(args[0], args[1]), time.Now(), payload)
}

func runPagesLs(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	var pages []savedpages.SavedPage
	if len(args) == 1 {
		pages, err = c.Pages.ForSite(cmd.Context(), page.NewSite(args[0], lang))
	} else {
		pages, err = c.Pages.List(cmd.Context())
	}
	if err != nil {
		return err
	}
	for _, p := range pages {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", p.Timestamp.Format(time.RFC3339), p.Title.Site.Authority, p.Title.PrefixedText(), p.Title.DisplayText())
	}
	return nil
}

func runPagesExists(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if !c.Pages.Exists(cmd.Context(), titleArg(args[0], args[1])) {
		return fmt.Errorf("%q is not saved", args[1])
	}
	return nil
}

func runPagesCat(cmd *cobra.Command, args []string) error {
	c, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	r, ok, err := c.Pages.Payload(cmd.Context(), titleArg(args[0], args[1]))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%q is not saved", args[1])
	}
	_, err = io.Copy(cmd.OutOrStdout(), r)
	return err
}
