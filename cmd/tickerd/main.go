package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickerd/internal/app"
	"tickerd/internal/ics"
)

func main() {
	var (
		cfgPath    string
		checkOnly  bool
		importPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&checkOnly, "check", false, "validate the config file and exit")
	flag.StringVar(&importPath, "import", "", "import tickers from an ICS file and exit")
	flag.Parse()

	if checkOnly {
		if _, err := app.CheckConfig(cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, "config invalid:", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if importPath != "" {
		if err := runImport(a, importPath); err != nil {
			a.Close()
			fmt.Fprintln(os.Stderr, "import failed:", err)
			os.Exit(1)
		}
		a.Close()
		return
	}

	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	notifySystemd(daemon.SdNotifyReady)
	startWatchdog(a.Done())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	notifySystemd(daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	_ = a.Stop(stopCtx, reason)
	cancel()

	if reason == app.StopFatalError && a.Err() != nil {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		os.Exit(1)
	}
}

// runImport maps every VEVENT in the file to tickers and persists them. The
// daemon picks them up on its next pass; when run while the daemon is down,
// the first pass after boot registers their alarms.
func runImport(a *app.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tickers, rep, err := ics.Import(f, ics.Options{
		Calendar: a.Calendar(),
		Log:      a.Logger(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, tk := range tickers {
		if err := a.Store().Save(ctx, tk); err != nil {
			return fmt.Errorf("save %s: %w", tk.ID, err)
		}
	}

	fmt.Printf("imported %d ticker(s): %d mapped, %d expanded, %d skipped\n",
		rep.Tickers, len(rep.Mapped), len(rep.Expanded), len(rep.Skipped))
	for uid, why := range rep.Skipped {
		fmt.Printf("  skipped %s: %s\n", uid, why)
	}
	return nil
}

// notifySystemd is a no-op outside a systemd unit (no NOTIFY_SOCKET).
func notifySystemd(state string) {
	_, _ = daemon.SdNotify(false, state)
}

func startWatchdog(done <-chan struct{}) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				notifySystemd(daemon.SdNotifyWatchdog)
			}
		}
	}()
}
