package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourname/mailferry/internal/auth"
	"github.com/yourname/mailferry/internal/batch"
	"github.com/yourname/mailferry/internal/mailbox"
	"github.com/yourname/mailferry/internal/normalize"
	"github.com/yourname/mailferry/internal/rate"
	"github.com/yourname/mailferry/internal/report"
	"github.com/yourname/mailferry/internal/transport"
	"github.com/yourname/mailferry/internal/uploader"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

const defaultBaseURL = "https://apps-apis.google.com"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailferry",
		Short: "Mailferry - migrate local mailboxes into a hosted account",
		RunE: func(cmd *cobra.Command, args []string) error {
			// default to help
			return cmd.Help()
		},
	}

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("mailferry %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			if date != "" {
				fmt.Printf(" built %s", date)
			}
			fmt.Println()
			os.Exit(0)
		}
	}

	uploadCmd := &cobra.Command{
		Use:   "upload <source-path>",
		Short: "Upload a local mailbox to a user of the hosted domain",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	addUploadFlags(uploadCmd)
	rootCmd.AddCommand(uploadCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// upload command options
type uploadOptions struct {
	domain         string
	admin          string
	password       string
	passwordPrompt bool
	user           string

	srcType string
	folders []string // last occurrence wins
	starred bool
	unread  bool
	labels  []string
	sender  string

	baseURL    string
	reportFile string
	throttle   time.Duration
	dryRun     bool
	noTUI      bool
	verbose    bool
}

func addUploadFlags(cmd *cobra.Command) {
	o := &uploadOptions{}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = false
	cmd.Flags().StringVar(&o.domain, "domain", "", "Hosted domain the destination user belongs to")
	cmd.Flags().StringVar(&o.admin, "admin", "", "Admin account email used to authenticate")
	cmd.Flags().StringVar(&o.password, "password", "", "Admin account password")
	cmd.Flags().BoolVar(&o.passwordPrompt, "password-prompt", false, "Prompt for the admin password (no echo)")
	cmd.Flags().StringVar(&o.user, "user", "", "Destination username within the domain")

	cmd.Flags().StringVar(&o.srcType, "type", "mbox", "Source layout: mbox, maildir, apple or file")
	cmd.Flags().StringArrayVar(&o.folders, "folder", nil, "Place uploaded mail: inbox, sent, draft or trash (last one wins)")
	cmd.Flags().BoolVar(&o.starred, "starred", false, "Mark uploaded mail starred")
	cmd.Flags().BoolVar(&o.unread, "unread", false, "Mark uploaded mail unread")
	cmd.Flags().StringArrayVar(&o.labels, "label", nil, "Extra label to apply (can be repeated)")
	cmd.Flags().StringVar(&o.sender, "from", "", "Default sender for messages missing a From header (default: admin email)")

	cmd.Flags().StringVar(&o.baseURL, "base-url", defaultBaseURL, "Service base URL")
	cmd.Flags().StringVar(&o.reportFile, "report-file", "", "Write a JSON failure report to this path")
	cmd.Flags().DurationVar(&o.throttle, "throttle", 500*time.Millisecond, "Fixed delay between messages")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Traverse and normalize but don't upload")
	cmd.Flags().BoolVar(&o.noTUI, "no-tui", false, "Plain log output instead of the progress UI")
	cmd.Flags().BoolVar(&o.verbose, "verbose", false, "Debug logging, including raw protocol dumps")

	// Bind into context
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, o))
		return nil
	}
}

type ctxKey struct{}

func runUpload(cmd *cobra.Command, args []string) error {
	o := cmd.Context().Value(ctxKey{}).(*uploadOptions)

	if o.passwordPrompt && o.password == "" {
		fmt.Fprint(os.Stderr, "Admin password: ")
		b, perr := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if perr != nil {
			return fmt.Errorf("read admin password: %w", perr)
		}
		o.password = string(b)
	}

	if o.domain == "" || o.admin == "" || o.password == "" || o.user == "" {
		return fmt.Errorf("missing required flags: --domain, --admin, --password (or --password-prompt), --user")
	}
	props, err := uploadProperties(o)
	if err != nil {
		return err
	}
	src, err := mailbox.NewSource(o.srcType, args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var dump io.Writer
	if o.verbose {
		dump = os.Stderr
	}
	t, err := transport.Open(transport.Config{
		BaseURL:    o.baseURL,
		UserAgent:  "mailferry/" + version,
		DumpWriter: dump,
	})
	if err != nil {
		return err
	}
	if !o.dryRun {
		if _, err := auth.Login(ctx, t, auth.Credentials{Email: o.admin, Password: o.password}); err != nil {
			return err
		}
	}

	scanner := &mailbox.Scanner{Log: log}
	total, err := scanner.Count(src)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	log.Info("starting upload", "source", src.Path, "type", src.Kind.String(),
		"messages", total, "user", o.user, "dry-run", o.dryRun)

	sender := o.sender
	if sender == "" {
		sender = o.admin
	}
	svc := uploader.NewService(
		&batch.Client{Transport: t, Domain: o.domain, Username: o.user},
		scanner,
		&normalize.Normalizer{DefaultSender: sender, Log: log},
		log,
	)
	bucket := rate.NewTokenBucket(o.throttle)
	defer bucket.Stop()
	svc.Rate = bucket

	var rep *report.Report
	if o.reportFile != "" {
		rep = report.New()
		svc.Report = rep
	}

	opts := uploader.Options{Properties: props, Labels: o.labels, DryRun: o.dryRun}

	var tally uploader.Tally
	var runErr error
	if o.noTUI {
		done := make(chan struct{})
		go func() {
			for range svc.Events() {
			}
			close(done)
		}()
		tally, runErr = svc.Run(ctx, src, opts)
		<-done
	} else {
		type runResult struct {
			tally uploader.Tally
			err   error
		}
		progress := make(chan int, 128)
		errc := make(chan error, 1)
		resc := make(chan runResult, 1)
		go func() {
			got, err := svc.Run(ctx, src, opts)
			resc <- runResult{tally: got, err: err}
			errc <- err
		}()
		go func() {
			for ev := range svc.Events() {
				if ev.Type == uploader.EventMessageDone {
					progress <- 1
				}
			}
			close(progress)
		}()
		runUploadTUI(cancel, total, progress, errc)
		// An aborted TUI still waits for the run to unwind.
		res := <-resc
		tally, runErr = res.tally, res.err
	}

	if rep != nil {
		if err := rep.Save(o.reportFile); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}
	fmt.Printf("Uploaded %d message(s), %d rejected, %d skipped\n",
		tally.Uploaded, tally.Rejected, tally.Skipped)
	return runErr
}

// uploadProperties maps the placement and boolean flags onto wire properties.
// When --folder is repeated only the last occurrence counts.
func uploadProperties(o *uploadOptions) ([]batch.Property, error) {
	var props []batch.Property
	if len(o.folders) > 0 {
		switch folder := o.folders[len(o.folders)-1]; folder {
		case "inbox":
			props = append(props, batch.PropInbox)
		case "sent":
			props = append(props, batch.PropSent)
		case "draft":
			props = append(props, batch.PropDraft)
		case "trash":
			props = append(props, batch.PropTrash)
		default:
			return nil, fmt.Errorf("invalid --folder value %q (expected inbox, sent, draft or trash)", folder)
		}
	}
	if o.starred {
		props = append(props, batch.PropStarred)
	}
	if o.unread {
		props = append(props, batch.PropUnread)
	}
	return props, nil
}
