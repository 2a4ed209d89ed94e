package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Daegonica/grokprime/plugin/persona"
	"github.com/Daegonica/grokprime/plugin/session"
)

// drainInterval is how often queued session events are flushed to the
// terminal. Short enough that streaming feels live.
const drainInterval = 50 * time.Millisecond

// repl owns the terminal loop. It is the single goroutine that touches the
// registry; a helper goroutine only feeds stdin lines into a channel.
type repl struct {
	registry *session.Registry
	personas *persona.Registry
	in       io.Reader
	out      io.Writer
}

func newREPL(registry *session.Registry, personas *persona.Registry, in io.Reader, out io.Writer) *repl {
	return &repl{registry: registry, personas: personas, in: in, out: out}
}

func (r *repl) run(ctx context.Context, startPersona string) error {
	switch {
	case startPersona != "":
		if _, err := r.registry.Open(startPersona); err != nil {
			return err
		}
	default:
		if names := r.personas.Names(); len(names) > 0 {
			if _, err := r.registry.Open(names[0]); err != nil {
				return err
			}
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sink := &consoleSink{registry: r.registry, out: r.out}
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	r.printWelcome()

	for {
		select {
		case <-ctx.Done():
			r.registry.CloseAll()
			return nil
		case line, ok := <-lines:
			if !ok {
				r.registry.CloseAll()
				return nil
			}
			if r.handle(ctx, strings.TrimSpace(line), sink) {
				r.registry.CloseAll()
				return nil
			}
		case <-ticker.C:
			r.registry.Drain(ctx, sink)
		}
	}
}

// handle processes one input line. Returns true when the loop should exit.
func (r *repl) handle(ctx context.Context, line string, sink *consoleSink) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if err := r.registry.Send(line); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		return false
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit", "q":
		return true
	case "help":
		r.printHelp()
	case "personas":
		for _, n := range r.personas.Names() {
			p, _ := r.personas.Get(n)
			fmt.Fprintf(r.out, "  %-16s %s\n", n, p.Description)
		}
	case "new", "open":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: /new <persona>")
			break
		}
		s, err := r.registry.Open(arg)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			break
		}
		fmt.Fprintf(r.out, "opened session with %s\n", s.Persona().Name)
	case "close":
		s := r.registry.Active()
		if s == nil {
			fmt.Fprintln(r.out, "no active session")
			break
		}
		closed := s.Persona().Name
		if err := r.registry.Close(s.ID()); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			break
		}
		fmt.Fprintf(r.out, "closed session with %s\n", closed)
		r.announceActive()
	case "next":
		if s := r.registry.Cycle(true); s != nil {
			fmt.Fprintf(r.out, "switched to %s\n", s.Persona().Name)
		}
	case "prev":
		if s := r.registry.Cycle(false); s != nil {
			fmt.Fprintf(r.out, "switched to %s\n", s.Persona().Name)
		}
	case "list":
		active := r.registry.Active()
		for i, s := range r.registry.Sessions() {
			marker := " "
			if s == active {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s [%d] %-16s %-10s %d messages\n",
				marker, i+1, s.Persona().Name, s.State(), s.Conversation().MessageCount()-1)
		}
	case "save":
		s := r.registry.Active()
		if s == nil {
			fmt.Fprintln(r.out, "no active session")
			break
		}
		if err := s.SaveHistory(); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			break
		}
		fmt.Fprintln(r.out, "history saved")
	case "summarize":
		s := r.registry.Active()
		if s == nil {
			fmt.Fprintln(r.out, "no active session")
			break
		}
		compacted, err := s.SummarizeNow(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(r.out, "error: %v\n", err)
		case compacted:
			fmt.Fprintln(r.out, "history summarized")
		default:
			fmt.Fprintln(r.out, "nothing old enough to summarize")
		}
	case "clear":
		s := r.registry.Active()
		if s == nil {
			fmt.Fprintln(r.out, "no active session")
			break
		}
		if err := s.Reset(); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			break
		}
		fmt.Fprintln(r.out, "conversation cleared")
	case "cancel":
		s := r.registry.Active()
		if s == nil {
			fmt.Fprintln(r.out, "no active session")
			break
		}
		s.Close()
		fmt.Fprintln(r.out, "request cancelled")
	default:
		fmt.Fprintf(r.out, "unknown command /%s, try /help\n", name)
	}
	return false
}

func (r *repl) announceActive() {
	if s := r.registry.Active(); s != nil {
		fmt.Fprintf(r.out, "active session is now %s\n", s.Persona().Name)
	}
}

func (r *repl) printWelcome() {
	if s := r.registry.Active(); s != nil {
		fmt.Fprintf(r.out, "talking to %s — /help for commands\n", s.Persona().Name)
		return
	}
	fmt.Fprintln(r.out, "no personas found — add YAML files to the persona directory and /new <name>")
}

func (r *repl) printHelp() {
	fmt.Fprint(r.out, `commands:
  /new <persona>   open a session with a persona
  /close           close the active session
  /next, /prev     cycle through open sessions
  /list            show open sessions
  /personas        list available personas
  /save            persist the active session's history
  /summarize       fold old history into a summary now
  /clear           reset the conversation and delete its history
  /cancel          drop the in-flight request
  /quit            exit
`)
}

// consoleSink renders drained session events. Fragments from one reply
// stream onto a single line opened with the persona's name; output from a
// different session breaks the line first.
type consoleSink struct {
	registry *session.Registry
	out      io.Writer

	// open is the session whose reply line is currently being streamed.
	open uuid.UUID
}

func (c *consoleSink) label(id uuid.UUID) string {
	if s, ok := c.registry.Get(id); ok {
		return s.Persona().Name
	}
	return "unknown"
}

func (c *consoleSink) breakLine() {
	if c.open != uuid.Nil {
		fmt.Fprintln(c.out)
		c.open = uuid.Nil
	}
}

func (c *consoleSink) Fragment(id uuid.UUID, text string) {
	if c.open != id {
		c.breakLine()
		fmt.Fprintf(c.out, "%s> ", c.label(id))
		c.open = id
	}
	fmt.Fprint(c.out, text)
}

func (c *consoleSink) Notice(id uuid.UUID, text string) {
	c.breakLine()
	fmt.Fprintf(c.out, "[%s] %s\n", c.label(id), text)
}

func (c *consoleSink) Completed(id uuid.UUID, text string) {
	if c.open == id {
		// The reply already streamed through fragments.
		c.breakLine()
		return
	}
	c.breakLine()
	fmt.Fprintf(c.out, "%s> %s\n", c.label(id), text)
}

func (c *consoleSink) Failed(id uuid.UUID, err error) {
	c.breakLine()
	fmt.Fprintf(c.out, "[%s] request failed: %v\n", c.label(id), err)
}
