// scriptai-admin backs up and restores the script sources and bindings of a
// stopped scriptai server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zond/scriptai/config"
	"github.com/zond/scriptai/loader"
	"github.com/zond/scriptai/storage"
)

func main() {
	configPath := flag.String("config", "", "YAML config file.")
	dir := flag.String("dir", "", "Where the database lives, overrides the config.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [file]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  backup [file]   Write sources and bindings as JSON to file, or stdout\n")
		fmt.Fprintf(os.Stderr, "  restore [file]  Load a backup from file, or stdin\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 || len(args) > 2 {
		flag.Usage()
		os.Exit(1)
	}
	file := ""
	if len(args) == 2 {
		file = args[1]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Dir = *dir
	}

	switch args[0] {
	case "backup":
		err = backup(cfg.Dir, file)
	case "restore":
		err = restore(cfg.Dir, file)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func withStore(dir string, f func(ctx context.Context, store *storage.Storage) error) error {
	ctx := context.Background()
	store, err := storage.New(ctx, filepath.Join(dir, "db"))
	if err != nil {
		return err
	}
	if err := f(ctx, store); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}

func backup(dir, file string) error {
	var w io.Writer = os.Stdout
	if file != "" {
		f, err := os.Create(file)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return withStore(dir, func(ctx context.Context, store *storage.Storage) error {
		return loader.Backup(ctx, store, w)
	})
}

func restore(dir, file string) error {
	var r io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return withStore(dir, func(ctx context.Context, store *storage.Storage) error {
		return loader.Restore(ctx, store, r)
	})
}
