package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/flowscore/internal/discovery"
	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/score"
	"github.com/danmuck/flowscore/internal/transport"
)

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", discovery.DefaultTimeout, "mDNS browse duration")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-timeout 3s] <path-to-mei-file>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	browser, err := discovery.NewBrowser()
	if err != nil {
		fmt.Fprintf(os.Stderr, "discoversend: %v\n", err)
		os.Exit(1)
	}
	app := sendApp{
		browser: browser,
		dialer:  transport.NewWebsocketDialer(transport.DefaultConfig()),
		in:      os.Stdin,
		out:     os.Stdout,
		timeout: timeout,
	}
	if err := app.run(ctx, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "discoversend: %v\n", err)
		os.Exit(1)
	}
}

type sendApp struct {
	browser discovery.Browser
	dialer  transport.Dialer
	in      io.Reader
	out     io.Writer
	timeout time.Duration
}

// run discovers brokers, asks which one to use and sends the whole score
// as one message.
func (a sendApp) run(ctx context.Context, path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	// Parse only validates and counts; the broker gets the file as written.
	doc, err := score.Parse(payload)
	if err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}

	fmt.Fprintln(a.out, "Discovering brokers (mDNS) ...")
	brokers, err := discovery.Discover(ctx, a.browser, a.timeout)
	if err != nil {
		return err
	}
	broker, err := discovery.Choose(a.in, a.out, brokers)
	if err != nil {
		return err
	}

	url := transport.URL(broker, transport.RoleProvider)
	fmt.Fprintf(a.out, "Connecting to %s ...\n", url)
	conn, err := a.dialer.Dial(ctx, url)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Sending %d bytes (%d measures) from %s ...\n", len(payload), doc.Len(), path)
	if err := conn.Send(ctx, payload); err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.Close(); err != nil {
		return err
	}
	logging.Infof("discoversend sent bytes=%d broker=%q", len(payload), broker.Name)
	fmt.Fprintln(a.out, "Done. Closing.")
	return nil
}
