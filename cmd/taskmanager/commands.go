package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/klokku/taskmanager/internal/app"
	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/internal/daemon"
	"github.com/klokku/taskmanager/internal/shell"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/export"
	"github.com/urfave/cli/v2"
)

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:    "taskmanager",
		Usage:   "keep local and calendar events classified as past, ongoing and future",
		Version: daemon.Version,
		Reader:  in,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of the YAML configuration file",
				Value:   config.DefaultConfigPath(),
				EnvVars: []string{"TASKMANAGER_CONFIG"},
			},
		},
		Action: runShell,
		Commands: []*cli.Command{
			{
				Name:   "shell",
				Usage:  "start the interactive shell",
				Action: runShell,
			},
			{
				Name:   "daemon",
				Usage:  "run in the background, ticking and synchronizing on schedule and serving the HTTP API",
				Action: runDaemon,
			},
			{
				Name:   "sync",
				Usage:  "synchronize every linked account once",
				Action: runSync,
			},
			{
				Name:      "add",
				Usage:     "create a local event",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Usage: "start time (RFC 3339 or 'YYYY-MM-DD HH:MM'), defaults to now"},
					&cli.StringFlag{Name: "end", Usage: "end time, defaults to one hour after start"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: runAdd,
			},
			{
				Name:  "ls",
				Usage: "list events",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bucket", Aliases: []string{"b"}, Usage: "past, ongoing or future"},
					&cli.StringFlag{Name: "month", Aliases: []string{"m"}, Usage: "only events overlapping the month, as YYYY-MM"},
				},
				Action: runList,
			},
			{
				Name:  "export",
				Usage: "write every event as iCalendar",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, defaults to stdout"},
				},
				Action: runExport,
			},
			{
				Name:   "accounts",
				Usage:  "list linked accounts",
				Action: runAccounts,
			},
			{
				Name:   "link-google",
				Usage:  "link a Google Calendar account",
				Action: runLinkGoogle,
			},
			{
				Name:      "link-ics",
				Usage:     "subscribe to an iCalendar feed",
				ArgsUsage: "<name> <url>",
				Action:    runLinkICS,
			},
			{
				Name:      "unlink",
				Usage:     "remove a linked account",
				ArgsUsage: "<id>",
				Action:    runUnlink,
			},
		},
	}
}

func withApplication(c *cli.Context, fn func(ctx context.Context, a *app.Application) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, c.String("config"))
	if err != nil {
		return err
	}
	defer application.Close()
	return fn(ctx, application)
}

func runShell(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		return shell.New(a.Deps.AgendaService, c.App.Reader, c.App.Writer).Run(ctx)
	})
}

func runDaemon(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		return daemon.New(a).Run(ctx)
	})
}

func runSync(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		report := a.Deps.AgendaService.SyncAllAccounts(ctx)
		fmt.Fprintln(c.App.Writer, report.String())
		if !report.Success {
			return cli.Exit(report.Err(), 1)
		}
		return nil
	})
}

func runAdd(c *cli.Context) error {
	title := strings.Join(c.Args().Slice(), " ")
	if title == "" {
		return cli.Exit("a title is required", 2)
	}
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		now := a.Deps.AgendaService.Now()
		start, err := parseTime(c.String("start"), now)
		if err != nil {
			return err
		}
		end, err := parseTime(c.String("end"), start.Add(time.Hour))
		if err != nil {
			return err
		}
		e, err := a.Deps.AgendaService.CreateEvent(ctx, event.Event{
			Name:        title,
			Description: c.String("description"),
			Start:       start,
			End:         end,
		}, now)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "created %d: %s\n", e.Id, e.Name)
		return nil
	})
}

func runList(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		agenda := a.Deps.AgendaService
		var events []event.Event
		switch {
		case c.String("month") != "":
			month, err := time.ParseInLocation("2006-01", c.String("month"), time.Local)
			if err != nil {
				return fmt.Errorf("invalid month %q, expected YYYY-MM", c.String("month"))
			}
			events = agenda.EventsForMonth(month.Year(), month.Month(), time.Local)
		case c.String("bucket") != "":
			bucket, err := calendar.ParseBucket(c.String("bucket"))
			if err != nil {
				return err
			}
			events = agenda.Bucket(bucket)
		default:
			events = agenda.ListEvents()
		}
		shell.Print(c.App.Writer, events)
		return nil
	})
}

func runExport(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		var w io.Writer = c.App.Writer
		if path := c.String("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			defer f.Close()
			w = f
		}
		return export.Write(w, a.Deps.AgendaService.ListEvents(), a.Deps.Clock.Now())
	})
}

func runAccounts(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		accounts, err := a.Deps.AccountService.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tEMAIL\tENDPOINT")
		for _, acc := range accounts {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", acc.Id, acc.Type, acc.Email, acc.Endpoint)
		}
		return tw.Flush()
	})
}

func runLinkGoogle(c *cli.Context) error {
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		if a.Config.Google.ClientId == "" {
			return cli.Exit("google.clientid is not configured", 2)
		}
		fmt.Fprintf(c.App.Writer, "Open the following page, grant access and paste the code:\n%s\ncode: ",
			a.Deps.GoogleLinker.AuthCodeURL(uuid.NewString()))
		code, err := bufio.NewReader(c.App.Reader).ReadString('\n')
		if err != nil && code == "" {
			return fmt.Errorf("failed to read authorization code: %w", err)
		}
		acc, err := a.Deps.GoogleLinker.Exchange(ctx, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		linked, err := a.Deps.AccountService.Link(ctx, acc)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "linked %s (id %d)\n", linked.Email, linked.Id)
		return nil
	})
}

func runLinkICS(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: link-ics <name> <url>", 2)
	}
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		linked, err := a.Deps.AccountService.Link(ctx, account.Account{
			Email:    c.Args().Get(0),
			Type:     account.ICSFeed,
			Endpoint: c.Args().Get(1),
			UserInfo: account.UserInfo{Email: c.Args().Get(0), DisplayName: c.Args().Get(0)},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "linked %s (id %d)\n", linked.Email, linked.Id)
		return nil
	})
}

func runUnlink(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: unlink <id>", 2)
	}
	var id int64
	if _, err := fmt.Sscan(c.Args().First(), &id); err != nil {
		return cli.Exit("invalid account id", 2)
	}
	return withApplication(c, func(ctx context.Context, a *app.Application) error {
		if err := a.Deps.AccountService.Unlink(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "unlinked %d\n", id)
		return nil
	})
}

// parseTime accepts the layouts of timeLayouts in the local zone; an empty value yields fallback.
func parseTime(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", value)
}
