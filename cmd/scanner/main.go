// scanner is the gate-side check-in client.  It validates credentials
// locally, redeems them against the check-in server and keeps working
// through network outages by queueing tentative redemptions in a local
// SQLite file that a background reconciler replays.
//
// Usage:
//
//	scanner [flags]               scan payloads typed on stdin (or --image files)
//	scanner history [flags]       print matching check-ins from the server
//	scanner export [flags]        download matching check-ins as CSV
//
// While scanning, the line "reset" clears the displayed result and
// "override <pin> [note]" admits the displayed rejection when the
// supervisor PIN matches.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/event-checkin/internal/client"
	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/credential"
	"github.com/iliyamo/event-checkin/internal/history"
	"github.com/iliyamo/event-checkin/internal/ledger"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/scan"
)

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	server     string
	token      string
	event      string
	device     string
	offlineDB  string
	images     []string
	verbose    bool

	// history and export
	search  string
	size    string
	outcome string
	from    string
	to      string
	limit   int
	oldest  bool
	out     string
}

func run(args []string) error {
	cmd := "scan"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var opts options
	flagSet := pflag.NewFlagSet("scanner "+cmd, pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML device profile")
	flagSet.StringVar(&opts.server, "server", "", "check-in server URL")
	flagSet.StringVar(&opts.token, "token", "", "device access token")
	flagSet.StringVar(&opts.event, "event", "", "event this gate admits to")
	flagSet.StringVar(&opts.device, "device", "", "device id (must match the token subject)")
	flagSet.StringVar(&opts.offlineDB, "offline-db", "", "SQLite file for offline redemptions")
	flagSet.StringSliceVar(&opts.images, "image", nil, "decode QR codes from these image files instead of reading stdin")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flagSet.StringVarP(&opts.search, "query", "q", "", "search booking id, name, email or event title")
	flagSet.StringVar(&opts.size, "size", "", "ticket size class: single, group or large")
	flagSet.StringVar(&opts.outcome, "outcome", "", "REDEEMED, REJECTED or OVERRIDDEN")
	flagSet.StringVar(&opts.from, "from", "", "earliest check-in (RFC3339 or YYYY-MM-DD)")
	flagSet.StringVar(&opts.to, "to", "", "latest check-in (RFC3339 or YYYY-MM-DD)")
	flagSet.IntVar(&opts.limit, "limit", 0, "maximum records")
	flagSet.BoolVar(&opts.oldest, "oldest-first", false, "oldest records first")
	flagSet.StringVarP(&opts.out, "output", "o", "", "export file (default stdout)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadScannerConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, flagSet, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "scan":
		return runScan(ctx, cfg, opts, logger)
	case "history", "export":
		cl, err := client.New(cfg.ServerURL, cfg.Token, cfg.RequestTimeout)
		if err != nil {
			return err
		}
		f, err := history.ParseFilter(filterValues(cfg, opts))
		if err != nil {
			return err
		}
		if cmd == "history" {
			return printHistory(ctx, cl, f, os.Stdout)
		}
		return export(ctx, cl, f, opts.out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// applyFlags lets explicitly set flags override the profile.
func applyFlags(cfg *config.ScannerConfig, fs *pflag.FlagSet, o options) {
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("server", &cfg.ServerURL, o.server)
	set("token", &cfg.Token, o.token)
	set("event", &cfg.EventID, o.event)
	set("device", &cfg.DeviceID, o.device)
	set("offline-db", &cfg.OfflineDB, o.offlineDB)
}

func filterValues(cfg config.ScannerConfig, o options) url.Values {
	v := url.Values{}
	add := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	add("q", o.search)
	add("size", o.size)
	add("event_id", cfg.EventID)
	add("outcome", o.outcome)
	add("from", o.from)
	add("to", o.to)
	if o.limit > 0 {
		v.Set("limit", fmt.Sprint(o.limit))
	}
	if o.oldest {
		v.Set("order", "oldest")
	}
	return v
}

func runScan(ctx context.Context, cfg config.ScannerConfig, o options, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cl, err := client.New(cfg.ServerURL, cfg.Token, cfg.RequestTimeout)
	if err != nil {
		return err
	}
	keys, err := credential.ParseKeyring(cfg.Keys)
	if err != nil {
		return err
	}
	store, err := ledger.OpenSQLiteOfflineStore(cfg.OfflineDB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	retry := ledger.RetryPolicy{AttemptTimeout: cfg.RequestTimeout}
	device := ledger.NewDeviceLedger(ledger.DeviceConfig{
		Remote: cl, Store: store, Probe: cl, Retry: retry, Logger: logger,
	})
	checkins := history.NewForwardingStore(cl, store, logger)
	reconciler := ledger.NewReconciler(ledger.ReconcilerConfig{
		Authority: cl,
		Store:     store,
		History:   cl,
		Outbox:    cl,
		Reviews:   cl,
		Probe:     cl,
		Retry:     retry,
		Interval:  cfg.ReconcileInterval,
		Logger:    logger,
	})
	go func() { _ = reconciler.Run(ctx) }()

	var (
		decoder scan.Decoder
		manual  *scan.ManualDecoder
	)
	if len(o.images) > 0 {
		frames, err := loadImages(o.images)
		if err != nil {
			return err
		}
		decoder = scan.NewImageDecoder(scan.NewStaticFrames(frames...))
	} else {
		manual = scan.NewManualDecoder()
		decoder = manual
	}

	session := scan.Session{EventID: cfg.EventID, DeviceID: cfg.DeviceID}
	if cfg.Latitude != nil {
		session.Location = &model.Geolocation{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude}
	}
	ctrl := scan.NewController(scan.ControllerConfig{
		Session: session,
		Processor: scan.NewProcessor(scan.ProcessorConfig{
			Validator: credential.NewValidator(keys),
			Ledger:    device,
			History:   checkins,
			Logger:    logger,
		}),
		Decoder:           decoder,
		DisplayTimeout:    cfg.DisplayTimeout,
		ScanInterval:      cfg.ScanInterval,
		DecodeTimeout:     cfg.DecodeTimeout,
		SupervisorPINHash: cfg.SupervisorPINHash,
		OnChange:          func(s scan.Snapshot) { display(os.Stdout, s) },
		Logger:            logger,
	})

	go readCommands(ctx, os.Stdin, ctrl, manual, logger)
	logger.Info("scanning", "event_id", cfg.EventID, "device_id", cfg.DeviceID, "server", cfg.ServerURL)
	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readCommands routes operator input: control words go to the
// controller and everything else is treated as a typed payload when
// manual entry is active.
func readCommands(ctx context.Context, r io.Reader, ctrl *scan.Controller, manual *scan.ManualDecoder, logger *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "reset":
			ctrl.Reset()
		case strings.HasPrefix(line, "override "):
			pin, note, _ := strings.Cut(strings.TrimPrefix(line, "override "), " ")
			if _, err := ctrl.Override(ctx, pin, strings.TrimSpace(note)); err != nil {
				fmt.Fprintf(os.Stdout, "override refused: %v\n", err)
			}
		case manual != nil:
			if err := manual.Feed(ctx, line); err != nil {
				return
			}
		}
	}
	if err := sc.Err(); err != nil {
		logger.Warn("reading stdin", "err", err)
	}
}

func display(w io.Writer, s scan.Snapshot) {
	if !s.State.Displaying() || s.Outcome == nil {
		return
	}
	o := s.Outcome
	switch {
	case o.Accepted && o.Tentative:
		fmt.Fprintf(w, "ADMIT (offline, pending confirmation) %s\n", describe(o))
	case o.Accepted:
		fmt.Fprintf(w, "ADMIT %s\n", describe(o))
	default:
		fmt.Fprintf(w, "REJECT %s: %s\n", o.Reason, describe(o))
		if o.Reason.Overridable() {
			fmt.Fprintln(w, "  supervisor may override: override <pin> [note]")
		}
	}
	for _, warn := range o.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func describe(o *scan.Outcome) string {
	if o.Credential == nil {
		return o.Detail
	}
	c := o.Credential
	s := fmt.Sprintf("booking %s, %d ticket(s), %s", c.BookingID, c.TicketQuantity, c.EventTitle)
	if o.Prior != nil {
		s += fmt.Sprintf(" (already admitted by %s at %s)", o.Prior.DeviceID, o.Prior.RedeemedAt.Local().Format(time.Kitchen))
	}
	return s
}

func loadImages(paths []string) ([]image.Image, error) {
	out := make([]image.Image, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", p, err)
		}
		out = append(out, img)
	}
	return out, nil
}

func printHistory(ctx context.Context, cl *client.Client, f history.Filter, w io.Writer) error {
	recs, err := cl.Query(ctx, f)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tBOOKING\tNAME\tTICKETS\tOUTCOME\tREASON\tDEVICE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.CheckedInAt.Local().Format("2006-01-02 15:04:05"), r.BookingID, r.UserName, r.Tickets, r.Outcome, r.Reason, r.DeviceID)
	}
	return tw.Flush()
}

func export(ctx context.Context, cl *client.Client, f history.Filter, path string) error {
	if path == "" {
		return cl.Export(ctx, f, os.Stdout)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cl.Export(ctx, f, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
