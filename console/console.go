// Package console is the admin SSH console: script stats, actor state,
// script bindings, and live script output per actor.
package console

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"regexp"

	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/stats"
	"github.com/zond/scriptai/storage"
	"github.com/zond/scriptai/structs"
	"golang.org/x/term"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	errQuit           = errors.New("quit")
)

// ActorInfo is what the console shows about a live actor.
type ActorInfo struct {
	ID               structs.ActorID
	Template         string
	Region           string
	Health           uint32
	Alive            bool
	PendingMovements int
}

// Actors lists the live actors of the host.
type Actors interface {
	Actors() []ActorInfo
}

type Options struct {
	Addr string
	// HostKeyPEM is the PEM encoded SSH host key.
	HostKeyPEM []byte
	// Users maps user names to Argon2id password hashes, see HashPassword.
	Users map[string]string

	Stats       *stats.Stats
	Tables      *registry.Registry
	Store       *storage.Storage
	Actors      Actors
	Switchboard *Switchboard
}

type Console struct {
	opts   Options
	auth   *authenticator
	server *ssh.Server
}

func New(opts Options) (*Console, error) {
	c := &Console{
		opts: opts,
		auth: newAuthenticator(opts.Users),
	}
	c.server = &ssh.Server{
		Addr:            opts.Addr,
		Handler:         c.HandleSession,
		PasswordHandler: c.auth.passwordHandler,
	}
	if err := c.server.SetOption(ssh.HostKeyPEM(opts.HostKeyPEM)); err != nil {
		return nil, scriptai.WithStack(err)
	}
	return c, nil
}

// Serve accepts console sessions on l until ctx is done.
func (c *Console) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		if err := c.server.Close(); err != nil {
			log.Printf("closing console: %v", err)
		}
	}()
	log.Printf("serving console on %v", l.Addr())
	if err := c.server.Serve(l); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
		return scriptai.WithStack(err)
	}
	return nil
}

func (c *Console) HandleSession(sess ssh.Session) {
	t := term.NewTerminal(sess, "> ")
	defer c.opts.Switchboard.DetachAll(t)
	s := &session{
		ctx:     sess.Context(),
		console: c,
		user:    sess.User(),
		term:    t,
	}
	log.Printf("console session for %q from %v", s.user, sess.RemoteAddr())
	if err := s.process(); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("console session for %q: %v", s.user, err)
	}
}

type session struct {
	ctx     context.Context
	console *Console
	user    string
	term    *term.Terminal
}

// execute runs one command line.
func (s *session) execute(line string) error {
	words := whitespacePattern.Split(line, -1)
	if len(words) == 0 || words[0] == "" {
		return nil
	}
	if found, err := s.console.commands().attempt(s, words[0], line); err != nil {
		return err
	} else if !found {
		fmt.Fprintf(s.term, "Unknown command: %q\n", words[0])
	}
	return nil
}

func (s *session) process() error {
	fmt.Fprintf(s.term, "Welcome, %s. Try /help.\n", s.user)
	for {
		line, err := s.term.ReadLine()
		if err != nil {
			return scriptai.WithStack(err)
		}
		if err := s.execute(line); errors.Is(err, errQuit) {
			return nil
		} else if err != nil {
			fmt.Fprintln(s.term, err)
		}
	}
}
