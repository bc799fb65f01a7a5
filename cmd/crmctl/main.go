package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/Xfuse1/whatsapp-crm/internal/app"
	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	params, err := app.Resolve(*profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	params.Console = true

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cli := &CLI{Client: client, Out: os.Stdout, In: os.Stdin, JSON: *jsonFlag}
	runErr := cli.Run(ctx, args)
	stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = fxApp.Stop(stopCtx)

	if runErr != nil {
		if _, ok := apperr.As(runErr); ok {
			fmt.Fprintf(os.Stderr, "error: %s\n", apperr.UserMessage(runErr))
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		}
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login [--email e] [--password p]       Sign in with email and password")
	fmt.Fprintln(os.Stderr, "  login <token> [--email --name --id --role]")
	fmt.Fprintln(os.Stderr, "                                         Store an existing token")
	fmt.Fprintln(os.Stderr, "  logout                                 Forget the stored token")
	fmt.Fprintln(os.Stderr, "  status                                 Show the WhatsApp link status")
	fmt.Fprintln(os.Stderr, "  qr                                     Print the pairing QR code")
	fmt.Fprintln(os.Stderr, "  chats                                  List conversations")
	fmt.Fprintln(os.Stderr, "  messages <chatId>                      Show a conversation's history")
	fmt.Fprintln(os.Stderr, "  send <to> <text>                       Send a text message")
	fmt.Fprintln(os.Stderr, "  contact <phone> [name]                 Create a contact")
	fmt.Fprintln(os.Stderr, "  watch                                  Print live events as JSON lines")
}
