package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/zond/scriptai/config"
	"github.com/zond/scriptai/console"
	"github.com/zond/scriptai/server"
	"golang.org/x/term"
)

func hashPassword() error {
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	hash, err := console.HashPassword(string(password))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func main() {
	configPath := flag.String("config", "", "YAML config file.")
	sshAddr := flag.String("ssh", "", "Where to listen to console SSH connections, overrides the config.")
	dir := flag.String("dir", "", "Where to save database and settings, overrides the config.")
	hash := flag.Bool("hash_password", false, "Read a password and print its hash for the users list of the config.")

	flag.Parse()

	if *hash {
		if err := hashPassword(); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *sshAddr != "" {
		cfg.SSHAddr = *sshAddr
	}
	if *dir != "" {
		cfg.Dir = *dir
		cfg.ScriptDir = ""
		cfg.Normalize()
	}
	logs := server.SetupLogging(cfg.LogFile)
	defer logs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := srv.Start(ctx); err != nil {
		log.Fatal(err)
	}
}
