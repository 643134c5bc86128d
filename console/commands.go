package console

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/lang"
	"github.com/zond/scriptai/stats"
	"github.com/zond/scriptai/storage"
	"github.com/zond/scriptai/structs"

	goccy "github.com/goccy/go-json"
)

const (
	defaultListLength = 10
)

type command struct {
	names map[string]bool
	usage string
	f     func(*session, []string) error
}

type commands []command

func (c commands) attempt(s *session, name string, line string) (bool, error) {
	for _, cmd := range c {
		if cmd.names[name] {
			parts, err := shellwords.SplitPosix(line)
			if err != nil {
				return true, scriptai.WithStack(err)
			}
			if err := cmd.f(s, parts); err != nil {
				return true, scriptai.WithStack(err)
			}
			return true, nil
		}
	}
	return false, nil
}

func m(s ...string) map[string]bool {
	result := map[string]bool{}
	for _, k := range s {
		result[k] = true
	}
	return result
}

func (s *session) usage(cmd string) error {
	for _, c := range s.console.commands() {
		if c.names[cmd] {
			fmt.Fprintf(s.term, "usage: %s\n", c.usage)
		}
	}
	return nil
}

func parseCount(parts []string, idx int) (int, error) {
	if len(parts) <= idx {
		return defaultListLength, nil
	}
	n, err := strconv.Atoi(parts[idx])
	if err != nil || n < 1 {
		return 0, errors.Errorf("not a positive number: %q", parts[idx])
	}
	return n, nil
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Microsecond).String()
}

func (s *session) printRecords(records []stats.ExecutionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(s.term, "Nothing recorded.")
		return
	}
	t := table.New("Time", "Actor", "Script", "Hook", "Duration", "Category", "Message").WithWriter(s.term)
	for _, rec := range records {
		t.AddRow(rec.Timestamp.Format(time.RFC3339), rec.Actor, rec.SourcePath, rec.Hook, formatDuration(rec.Duration), rec.Category, rec.Message)
	}
	t.Print()
}

var statsSubcommands = map[string]func(*session, []string) error{
	"hooks": func(s *session, parts []string) error {
		snapshots := s.console.opts.Stats.Hooks()
		if len(snapshots) == 0 {
			fmt.Fprintln(s.term, "No hooks offered yet.")
			return nil
		}
		t := table.New("Hook", "Offered", "Handled", "Declined", "Failed", "Slow", "Avg", "Max", "Handled%").WithWriter(s.term)
		for _, h := range snapshots {
			t.AddRow(lang.Title(h.Hook.String()), h.Offered, h.Handled, h.Declined, h.Failed, h.Slow, formatDuration(h.Avg()), formatDuration(h.Max), fmt.Sprintf("%.1f", h.HandledPercent()))
		}
		t.Print()
		return nil
	},
	"scripts": func(s *session, parts []string) error {
		n, err := parseCount(parts, 2)
		if err != nil {
			return err
		}
		snapshots := s.console.opts.Stats.TopSources(n)
		if len(snapshots) == 0 {
			fmt.Fprintln(s.term, "No scripts run yet.")
			return nil
		}
		t := table.New("Script", "Runs", "Handled", "Failed", "Slow", "Total", "Avg", "Max").WithWriter(s.term)
		for _, src := range snapshots {
			t.AddRow(src.SourcePath, src.Offered, src.Handled, src.Failed, src.Slow, formatDuration(src.Total), formatDuration(src.Avg()), formatDuration(src.Max))
		}
		t.Print()
		return nil
	},
	"errors": func(s *session, parts []string) error {
		n, err := parseCount(parts, 2)
		if err != nil {
			return err
		}
		categories := s.console.opts.Stats.ErrorCategories()
		names := make([]string, 0, len(categories))
		for cat := range categories {
			names = append(names, string(cat))
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(s.term, "%s: %s\n", name, lang.Count(int(categories[stats.ErrorCategory(name)]), "error"))
		}
		s.printRecords(s.console.opts.Stats.RecentErrors(n))
		return nil
	},
	"slow": func(s *session, parts []string) error {
		n, err := parseCount(parts, 2)
		if err != nil {
			return err
		}
		s.printRecords(s.console.opts.Stats.RecentSlowExecutions(n))
		return nil
	},
	"reset": func(s *session, parts []string) error {
		s.console.opts.Stats.Reset()
		fmt.Fprintln(s.term, "Stats reset.")
		return nil
	},
}

func statsSubcommandNames() []string {
	result := make([]string, 0, len(statsSubcommands))
	for name := range statsSubcommands {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func parseBindingKind(s string) (storage.BindingKind, error) {
	kind := storage.BindingKind(s)
	if !kind.Valid() {
		return "", errors.Errorf("binding kind must be %s, not %q", lang.Enumerator{Pattern: "%q", Operator: "or"}.Do(string(storage.ActorBinding), string(storage.TemplateBinding)), s)
	}
	return kind, nil
}

func (c *Console) commands() commands {
	return []command{
		{
			names: m("/help", "/?"),
			usage: "/help",
			f: func(s *session, parts []string) error {
				t := table.New("Command", "Usage").WithWriter(s.term)
				for _, cmd := range s.console.commands() {
					names := []string{}
					for name := range cmd.names {
						names = append(names, name)
					}
					sort.Strings(names)
					t.AddRow(lang.Enumerator{Operator: "or"}.Do(names...), cmd.usage)
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/quit", "/exit"),
			usage: "/quit",
			f: func(s *session, parts []string) error {
				return errQuit
			},
		},
		{
			names: m("/stats"),
			usage: fmt.Sprintf("/stats [%s] [count]", strings.Join(statsSubcommandNames(), "|")),
			f: func(s *session, parts []string) error {
				sub := "hooks"
				if len(parts) > 1 {
					sub = parts[1]
				}
				f, found := statsSubcommands[sub]
				if !found {
					return s.usage(parts[0])
				}
				return f(s, parts)
			},
		},
		{
			names: m("/actors"),
			usage: "/actors",
			f: func(s *session, parts []string) error {
				actors := s.console.opts.Actors.Actors()
				fmt.Fprintf(s.term, "%s live.\n", lang.Capitalize(lang.Count(len(actors), "actor")))
				if len(actors) == 0 {
					return nil
				}
				t := table.New("ID", "Template", "Region", "Health", "Alive", "Pending", "Script").WithWriter(s.term)
				for _, a := range actors {
					script, err := s.console.opts.Store.BoundPath(s.ctx, a.ID, a.Template)
					if errors.Is(err, os.ErrNotExist) {
						script = "-"
					} else if err != nil {
						return err
					}
					t.AddRow(a.ID, a.Template, a.Region, a.Health, a.Alive, a.PendingMovements, script)
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/state"),
			usage: "/state <actor>",
			f: func(s *session, parts []string) error {
				if len(parts) != 2 {
					return s.usage(parts[0])
				}
				tbl, found := s.console.opts.Tables.Lookup(structs.ActorID(parts[1]))
				if !found {
					fmt.Fprintf(s.term, "No script table for %q.\n", parts[1])
					return nil
				}
				buf := &bytes.Buffer{}
				if err := goccy.Indent(buf, []byte(tbl.State()), "", "  "); err != nil {
					return scriptai.WithStack(err)
				}
				fmt.Fprintln(s.term, buf.String())
				return nil
			},
		},
		{
			names: m("/scripts"),
			usage: "/scripts",
			f: func(s *session, parts []string) error {
				sources, err := s.console.opts.Store.Sources(s.ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.term, "%s loaded.\n", lang.Capitalize(lang.Count(len(sources), "script")))
				if len(sources) == 0 {
					return nil
				}
				t := table.New("Path", "Modified").WithWriter(s.term)
				for _, src := range sources {
					t.AddRow(src.Path, src.ModTime.Format(time.RFC3339))
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/bindings"),
			usage: "/bindings",
			f: func(s *session, parts []string) error {
				bindings, err := s.console.opts.Store.Bindings(s.ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.term, "%s.\n", lang.Capitalize(lang.Count(len(bindings), "binding")))
				if len(bindings) == 0 {
					return nil
				}
				t := table.New("Kind", "Key", "Path").WithWriter(s.term)
				for _, b := range bindings {
					t.AddRow(b.Kind, b.Key, b.Path)
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/bind"),
			usage: "/bind <actor|template> <key> <path>",
			f: func(s *session, parts []string) error {
				if len(parts) != 4 {
					return s.usage(parts[0])
				}
				kind, err := parseBindingKind(parts[1])
				if err != nil {
					return err
				}
				if err := s.console.opts.Store.Bind(s.ctx, kind, parts[2], parts[3]); errors.Is(err, os.ErrNotExist) {
					fmt.Fprintf(s.term, "No script at %q.\n", storage.CleanPath(parts[3]))
					return nil
				} else if err != nil {
					return err
				}
				fmt.Fprintf(s.term, "Bound %s %q to %q.\n", kind, parts[2], storage.CleanPath(parts[3]))
				return nil
			},
		},
		{
			names: m("/unbind"),
			usage: "/unbind <actor|template> <key>",
			f: func(s *session, parts []string) error {
				if len(parts) != 3 {
					return s.usage(parts[0])
				}
				kind, err := parseBindingKind(parts[1])
				if err != nil {
					return err
				}
				if err := s.console.opts.Store.Unbind(s.ctx, kind, parts[2]); errors.Is(err, os.ErrNotExist) {
					fmt.Fprintf(s.term, "No %s binding for %q.\n", kind, parts[2])
					return nil
				} else if err != nil {
					return err
				}
				fmt.Fprintf(s.term, "Unbound %s %q.\n", kind, parts[2])
				return nil
			},
		},
		{
			names: m("/debug"),
			usage: "/debug <actor>",
			f: func(s *session, parts []string) error {
				if len(parts) != 2 {
					return s.usage(parts[0])
				}
				id := structs.ActorID(parts[1])
				sb := s.console.opts.Switchboard
				if sb.IsAttached(id, s.term) {
					fmt.Fprintf(s.term, "Already debugging %q.\n", id)
					return nil
				}
				backlog := sb.Backlog(id)
				fmt.Fprintf(s.term, "---- console of %q, %s ----\n", id, lang.Count(len(backlog), "buffered line"))
				for _, line := range backlog {
					if _, err := s.term.Write(line); err != nil {
						return scriptai.WithStack(err)
					}
				}
				sb.Attach(id, s.term)
				return nil
			},
		},
		{
			names: m("/undebug"),
			usage: "/undebug [actor]",
			f: func(s *session, parts []string) error {
				sb := s.console.opts.Switchboard
				switch len(parts) {
				case 1:
					ids := sb.DetachAll(s.term)
					if len(ids) == 0 {
						fmt.Fprintln(s.term, "Not debugging anything.")
						return nil
					}
					names := make([]string, len(ids))
					for i, id := range ids {
						names[i] = string(id)
					}
					sort.Strings(names)
					fmt.Fprintf(s.term, "Stopped debugging %s.\n", lang.Enumerator{Pattern: "%q"}.Do(names...))
				case 2:
					id := structs.ActorID(parts[1])
					if !sb.IsAttached(id, s.term) {
						fmt.Fprintf(s.term, "Not debugging %q.\n", id)
						return nil
					}
					sb.Detach(id, s.term)
					fmt.Fprintf(s.term, "Stopped debugging %q.\n", id)
				default:
					return s.usage(parts[0])
				}
				return nil
			},
		},
	}
}
