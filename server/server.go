// Package server wires storage, script loading, the script engine, the
// world and the admin console into one process.
package server

import (
	"context"
	"log"
	"net"
	"os"
	"path/filepath"

	"github.com/zond/scriptai"
	"github.com/zond/scriptai/config"
	"github.com/zond/scriptai/console"
	"github.com/zond/scriptai/engine"
	"github.com/zond/scriptai/js"
	"github.com/zond/scriptai/loader"
	"github.com/zond/scriptai/lua"
	"github.com/zond/scriptai/pemfile"
	"github.com/zond/scriptai/registry"
	"github.com/zond/scriptai/stats"
	"github.com/zond/scriptai/storage"
	"github.com/zond/scriptai/tengo"
	"github.com/zond/scriptai/world"
	"golang.org/x/sync/errgroup"
)

// Backends returns a backend per supported script extension.
func Backends() map[string]engine.Backend {
	return map[string]engine.Backend{
		".js":    js.Backend{},
		".lua":   lua.Backend{},
		".tengo": tengo.Backend{},
	}
}

type Server struct {
	cfg      config.Config
	store    *storage.Storage
	loader   *loader.Loader
	tables   *registry.Registry
	stats    *stats.Stats
	world    *world.World
	console  *console.Console
	listener net.Listener
}

// New opens everything the server needs and spawns the configured creatures.
// The creatures come alive when Start runs.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if err := os.MkdirAll(cfg.ScriptDir, 0700); err != nil {
		return nil, scriptai.WithStack(err)
	}
	s := &Server{
		cfg:    cfg,
		tables: registry.New(),
		stats:  stats.New(cfg.SlowThreshold),
	}
	var err error
	if s.store, err = storage.New(ctx, filepath.Join(cfg.Dir, "db")); err != nil {
		return nil, err
	}
	if err := s.setup(ctx); err != nil {
		s.store.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setup(ctx context.Context) error {
	s.loader = loader.New(s.cfg.ScriptDir, s.store)
	if err := s.loader.Sync(ctx); err != nil {
		return err
	}
	for _, b := range s.cfg.Bindings {
		if err := s.store.Bind(ctx, b.Kind, b.Key, b.Path); err != nil {
			return err
		}
	}

	switchboard := console.NewSwitchboard()
	s.world = world.New(world.Options{
		Tables: s.tables,
		Runtime: engine.New(engine.Options{
			Tables:   s.tables,
			Sources:  s.store,
			Stats:    s.stats,
			Consoles: switchboard,
			Backends: Backends(),
			Timeout:  s.cfg.ScriptTimeout,
		}),
		TickInterval: s.cfg.TickInterval,
		Despawned:    switchboard.Forget,
	})
	spawned := 0
	for _, spec := range s.cfg.Regions {
		region := s.world.AddRegion(spec.Name)
		for _, spawn := range spec.Spawns {
			for i := 0; i < spawn.Count; i++ {
				if _, err := region.Spawn(spawn.WorldTemplate()); err != nil {
					return err
				}
				spawned++
			}
		}
	}
	log.Printf("spawning %d creatures in %d regions", spawned, len(s.cfg.Regions))

	hostKey, err := pemfile.KeyParams{
		KeyPath:       filepath.Join(s.cfg.Dir, "host.pem"),
		SSHPubKeyPath: filepath.Join(s.cfg.Dir, "host.pub"),
	}.Load()
	if err != nil {
		return err
	}
	if len(s.cfg.Users) == 0 {
		log.Printf("no console users configured, nobody will be able to log in")
	}
	if s.console, err = console.New(console.Options{
		Addr:        s.cfg.SSHAddr,
		HostKeyPEM:  hostKey,
		Users:       s.cfg.Users,
		Stats:       s.stats,
		Tables:      s.tables,
		Store:       s.store,
		Actors:      s.world,
		Switchboard: switchboard,
	}); err != nil {
		return err
	}
	if s.listener, err = net.Listen("tcp", s.cfg.SSHAddr); err != nil {
		return scriptai.WithStack(err)
	}
	return nil
}

// Addr is where the console listens.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start runs the server until ctx is done or something fails, and then closes
// it.
func (s *Server) Start(ctx context.Context) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			log.Printf("closing storage: %v", err)
		}
	}()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loader.Watch(ctx)
	})
	g.Go(func() error {
		return s.world.Run(ctx)
	})
	g.Go(func() error {
		return s.console.Serve(ctx, s.listener)
	})
	return g.Wait()
}
