package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/Xfuse1/whatsapp-crm/internal/app"
	"github.com/Xfuse1/whatsapp-crm/internal/lock"
	"github.com/Xfuse1/whatsapp-crm/internal/profile"
	"github.com/Xfuse1/whatsapp-crm/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	params, err := app.Resolve(*profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var client *app.Client
	fxApp := fx.New(
		app.Module(params),
		app.Logger(),
		fx.Populate(&client),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if !client.Creds.IsAuthenticated() {
		_ = fxApp.Stop(context.Background())
		fmt.Fprintf(os.Stderr, "not signed in for profile %q; run: crmctl --profile %s login\n", params.Profile, params.Profile)
		os.Exit(1)
	}

	l, err := lock.Acquire(profile.LockPath(params.Profile))
	if err != nil {
		_ = fxApp.Stop(context.Background())
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = l.Release() }()

	client.GoLive(context.Background())
	runErr := tui.NewApp(client).Run()
	client.Offline()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		_ = l.Release()
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
