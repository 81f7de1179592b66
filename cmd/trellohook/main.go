// Command trellohook manages the Trello webhook that feeds agentcheck.
//
//	trellohook list
//	trellohook register -callback https://host/webhook/trello [-board ID]
//	trellohook delete WEBHOOK_ID
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hazyhaar/agentcheck/config"
	"github.com/hazyhaar/agentcheck/trello"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "trellohook:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: trellohook list|register|delete")
	}
	cfg, err := config.Load(os.Getenv("AGENTCHECK_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	client := trello.NewClient(cfg.Trello, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if !client.Configured() {
		return errors.New("TRELLO_API_KEY and TRELLO_TOKEN are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "list":
		hooks, err := client.ListWebhooks(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMODEL\tACTIVE\tCALLBACK")
		for _, h := range hooks {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", h.ID, h.IDModel, h.Active, h.CallbackURL)
		}
		return tw.Flush()

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		callback := fs.String("callback", cfg.Trello.CallbackURL, "public URL of /webhook/trello")
		board := fs.String("board", cfg.Trello.BoardID, "board ID to watch")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *callback == "" || *board == "" {
			return errors.New("register needs -callback and -board")
		}
		h, err := client.CreateWebhook(ctx, *callback, *board, "agentcheck card intake")
		if err != nil {
			return err
		}
		fmt.Println("registered", h.ID)
		return nil

	case "delete":
		if len(args) < 2 {
			return errors.New("usage: trellohook delete WEBHOOK_ID")
		}
		if err := client.DeleteWebhook(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("deleted", args[1])
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}
