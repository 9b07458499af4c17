package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/klokku/taskmanager/pkg/agenda"
	"github.com/klokku/taskmanager/pkg/event"
	log "github.com/sirupsen/logrus"
)

const prompt = "task_manager> "

var errExit = errors.New("exit")

type command struct {
	usage string
	help  string
	run   func(s *Shell, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"create_event": {"create_event <title>", "create a local event from now to one hour later", (*Shell).createEvent},
		"list_events":  {"list_events", "list every event", (*Shell).listEvents},
		"ls":           {"ls", "alias of list_events", (*Shell).listEvents},
		"past":         {"past", "list finished events", (*Shell).past},
		"ongoing":      {"ongoing", "list events happening now", (*Shell).ongoing},
		"future":       {"future", "list upcoming events", (*Shell).future},
		"edit":         {"edit <id> <name> [description]", "rename an event", (*Shell).edit},
		"rm":           {"rm <id>", "remove an event", (*Shell).remove},
		"sync":         {"sync", "synchronize all linked accounts", (*Shell).sync},
		"help":         {"help [command]", "show help", (*Shell).help},
		"exit":         {"exit", "leave the shell", (*Shell).exit},
		"quit":         {"quit", "alias of exit", (*Shell).exit},
	}
}

// Shell is the interactive front end. The classifier is ticked before every command.
type Shell struct {
	agenda *agenda.Service
	in     io.Reader
	out    io.Writer
}

func New(a *agenda.Service, in io.Reader, out io.Writer) *Shell {
	return &Shell{agenda: a, in: in, out: out}
}

// Run reads commands until exit, end of input or ctx cancellation.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	for {
		fmt.Fprint(s.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := s.Execute(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// Execute runs a single command line.
func (s *Shell) Execute(ctx context.Context, line string) error {
	args, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	s.agenda.Tick(s.agenda.Now())

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	log.Debugf("shell: %s", args[0])
	return cmd.run(s, ctx, args[1:])
}

func (s *Shell) createEvent(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", commands["create_event"].usage)
	}
	now := s.agenda.Now()
	e, err := s.agenda.CreateEvent(ctx, event.Event{
		Name:  strings.Join(args, " "),
		Start: now,
		End:   now.Add(time.Hour),
	}, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "created %d: %s\n", e.Id, e.Name)
	return nil
}

func (s *Shell) listEvents(ctx context.Context, args []string) error {
	s.print(s.agenda.ListEvents())
	return nil
}

func (s *Shell) past(ctx context.Context, args []string) error {
	s.print(s.agenda.Past())
	return nil
}

func (s *Shell) ongoing(ctx context.Context, args []string) error {
	s.print(s.agenda.Ongoing())
	return nil
}

func (s *Shell) future(ctx context.Context, args []string) error {
	s.print(s.agenda.Future())
	return nil
}

func (s *Shell) edit(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", commands["edit"].usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid event id %q", args[0])
	}
	description := ""
	if len(args) > 2 {
		description = strings.Join(args[2:], " ")
	}
	e, err := s.agenda.UpdateEventById(ctx, id, args[1], description)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "updated %d: %s\n", e.Id, e.Name)
	return nil
}

func (s *Shell) remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", commands["rm"].usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid event id %q", args[0])
	}
	if err := s.agenda.RemoveEventById(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "removed %d\n", id)
	return nil
}

func (s *Shell) sync(ctx context.Context, args []string) error {
	report := s.agenda.SyncAllAccounts(ctx)
	fmt.Fprintln(s.out, report.String())
	if err := report.Err(); err != nil {
		fmt.Fprintf(s.out, "%v\n", err)
	}
	return nil
}

func (s *Shell) help(ctx context.Context, args []string) error {
	if len(args) > 0 {
		cmd, ok := commands[args[0]]
		if !ok {
			return fmt.Errorf("unknown command %q", args[0])
		}
		fmt.Fprintf(s.out, "%s\n\t%s\n", cmd.usage, cmd.help)
		return nil
	}
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", commands[name].usage, commands[name].help)
	}
	return tw.Flush()
}

func (s *Shell) exit(ctx context.Context, args []string) error {
	return errExit
}

// Print writes events as an aligned table.
func Print(out io.Writer, events []event.Event) {
	if len(events) == 0 {
		fmt.Fprintln(out, "no events")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTART\tEND\tNAME")
	for _, e := range events {
		name := e.Name
		if e.Ongoing {
			name += " *"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Id, e.Start.Local().Format("2006-01-02 15:04"), e.End.Local().Format("2006-01-02 15:04"), name)
	}
	tw.Flush()
}

func (s *Shell) print(events []event.Event) {
	Print(s.out, events)
}
