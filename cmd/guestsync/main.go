package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Alp4ka/guestpager"
	"github.com/Alp4ka/guestpager/config"
	"github.com/Alp4ka/guestpager/internal/guestapi"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *guestpager.Store

	// adapter is built by the commands that talk to the backend.
	adapter *guestpager.Adapter
}

func main() {
	// Local runs keep credentials in .env; a missing file is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		query      string
		a          = new(app)
	)

	rootCmd := &cobra.Command{
		Use:           "guestsync",
		Short:         "Sync the visitor log guest list into a local cache and browse it",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}

			cfg, err := config.Load(viper.New(), configFile)
			if err != nil {
				return err
			}

			return a.init(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration (json, yaml or toml)")
	rootCmd.PersistentFlags().StringVarP(&query, "query", "q", "", "Search query matched against name or mobile")

	rootCmd.AddCommand(
		newSyncCmd(a, &query),
		newListCmd(a, &query),
		newCountCmd(a, &query),
		newServeCmd(a),
	)

	return rootCmd
}

func newSyncCmd(a *app, query *string) *cobra.Command {
	var maxPages int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the cache from page 1 and append pages until the end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.sync(cmd.Context(), *query, maxPages, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after this many page loads (0 means no limit)")

	return cmd
}

func newListCmd(a *app, query *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the cached guests matching the query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.list(cmd.Context(), *query, cmd.OutOrStdout())
		},
	}
}

func newCountCmd(a *app, query *string) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print how many cached guests match the query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, err := a.store.CountRecords(cmd.Context(), *query)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), count)
			return err
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cached guest list over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) init(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "text" {
		a.logger = slog.New(slog.NewTextHandler(logOut, opts))
	} else {
		a.logger = slog.New(slog.NewJSONHandler(logOut, opts))
	}
	a.cfg = cfg

	a.store, err = guestpager.OpenStore(ctx, guestpager.StoreConfig{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DSN,
		Debug:  cfg.Store.Debug,
	})
	if err != nil {
		return err
	}

	return nil
}

func (a *app) syncAdapter() (*guestpager.Adapter, error) {
	if a.adapter != nil {
		return a.adapter, nil
	}

	source, err := guestpager.NewHTTPSource(a.cfg.Remote.BaseURL, a.cfg.Remote.Path,
		guestpager.WithHTTPClient(&http.Client{Timeout: a.cfg.Remote.Timeout}),
		guestpager.WithSourceLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	a.adapter = guestpager.NewAdapter(source, a.store,
		guestpager.WithAdapterPageSize(a.cfg.Paging.PageSize),
		guestpager.WithPrefetchDistance(a.cfg.Paging.PrefetchDistance),
		guestpager.WithAdapterLogger(a.logger),
	)

	return a.adapter, nil
}

func (a *app) close() error {
	if a.adapter != nil {
		a.adapter.Close()
	}
	if a.store == nil {
		return nil
	}

	sqlDB, err := a.store.DB().DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (a *app) sync(ctx context.Context, query string, maxPages int, out io.Writer) error {
	adapter, err := a.syncAdapter()
	if err != nil {
		return err
	}
	pipeline := adapter.SetQuery(query)

	res, err := pipeline.LoadMore(ctx, guestpager.LoadRefresh)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	pages := 1
	a.logger.InfoContext(ctx, "refreshed guest cache", slog.Int("page", res.Page), slog.Int("records", res.Fetched))

	for !res.EndOfPaginationReached && (maxPages <= 0 || pages < maxPages) {
		res, err = pipeline.LoadMore(ctx, guestpager.LoadAppend)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("append failed: %w", err)
		}

		if res.Page > 0 {
			pages++
			a.logger.InfoContext(ctx, "appended guest page", slog.Int("page", res.Page), slog.Int("records", res.Fetched))
		}
	}

	total, ok, err := adapter.TotalCount(ctx)
	if err != nil {
		return err
	}
	if ok {
		a.logger.InfoContext(ctx, "remote total", slog.Int("total", total))
	}

	return printGuests(out, pipeline.Items())
}

func (a *app) list(ctx context.Context, query string, out io.Writer) error {
	var guests []guestpager.GuestRecord
	for rec, err := range a.store.Records(ctx, query, a.cfg.Paging.PageSize) {
		if err != nil {
			return err
		}
		guests = append(guests, rec)
	}

	return printGuests(out, guests)
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.HTTP.Listen,
		Handler: guestapi.New(a.store, a.logger).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.InfoContext(ctx, "guest api listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func printGuests(out io.Writer, guests []guestpager.GuestRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "ID\tNAME\tMOBILE\tPASS\tBOOKING\tKYC\tENTRY\tEXIT\tPAGE")
	for _, g := range guests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			g.ID, g.Name, g.Mobile, g.PassCategory, g.BookingID, g.KYCStatus, g.EntryTime, g.ExitTime, g.Page)
	}

	return w.Flush()
}
