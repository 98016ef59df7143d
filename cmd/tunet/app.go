package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tunet/internal/cache"
	"tunet/internal/config"
	"tunet/internal/credential"
	"tunet/internal/repository"
	"tunet/internal/repository/sqlite"
	"tunet/internal/session"
	"tunet/internal/transport"
)

// app holds what every command shares: the loaded config and the local
// database. It is built by the root command's PersistentPreRunE.
type app struct {
	cfg        *config.Config
	configPath string
	verbose    bool
	repo       repository.Repository
}

func (a *app) load(configFlag string) error {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if configFlag != "" {
		cfg, path, err = config.LoadFromPath(configFlag)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.configPath = path
	a.verbose = a.verbose || cfg.Verbose

	if !a.verbose {
		log.SetOutput(io.Discard)
	}
	return nil
}

// openRepo opens the local database on first use
func (a *app) openRepo() (repository.Repository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.Database.Path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	repo, err := sqlite.New(a.cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	return repo, nil
}

func (a *app) close() {
	if a.repo != nil {
		a.repo.Close()
	}
}

// credentials resolves the account to use. The config names the account; the
// credential store supplies the password.
func (a *app) credentials(ctx context.Context) (credential.Credentials, error) {
	repo, err := a.openRepo()
	if err != nil {
		return credential.Credentials{}, err
	}

	stored, err := credential.NewStore(repo).Load(ctx)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return credential.Credentials{}, errors.New("no account configured; run \"tunet account set <username>\"")
	case err != nil:
		return credential.Credentials{}, err
	}

	if want := a.cfg.Account.Username; want != "" && want != stored.Username {
		return credential.Credentials{}, fmt.Errorf("stored password belongs to %s but the config names %s; run \"tunet account set %s\"",
			stored.Username, want, want)
	}
	return stored, nil
}

// newSession builds a session with the persisted MAC, rename map and cache
func (a *app) newSession(ctx context.Context, dispatcher session.Dispatcher) (*session.Session, error) {
	creds, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := a.openRepo()
	if err != nil {
		return nil, err
	}

	mac, err := session.LoadCurrentMac(ctx, repo)
	if err != nil {
		return nil, err
	}

	names := session.NewNameBook(repo)
	if err := names.Load(ctx); err != nil {
		return nil, err
	}

	behavior := a.cfg.EffectiveBehavior()
	return session.New(session.Config{
		Username:   creds.Username,
		Password:   creds.Password,
		CurrentMac: mac,
		Endpoints:  endpointsFrom(a.cfg.Endpoints),
		Names:      names,
		Cache:      cache.NewFileStore(a.cfg.Cache.Path),
		Dispatcher: dispatcher,
		Transport: transport.Options{
			Timeout:   behavior.RequestTimeout,
			UserAgent: transport.DefaultUserAgent,
			Verbose:   a.verbose,
		},
		RetryDelay: behavior.RetryDelay,
	})
}

// endpointsFrom overlays configured URLs on the defaults
func endpointsFrom(c config.EndpointsConfig) session.Endpoints {
	e := session.DefaultEndpoints()
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&e.LogOn, c.LogOn)
	override(&e.SignIn, c.SignIn)
	override(&e.Profile, c.Profile)
	override(&e.Devices, c.Devices)
	override(&e.Drop, c.Drop)
	override(&e.Probe, c.Probe)
	override(&e.ProbeMarker, c.ProbeMarker)
	return e
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var configFlag string

	root := &cobra.Command{
		Use:           "tunet",
		Short:         "Campus network session client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(configFlag)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default: search "+config.ConfigFileName+" and XDG paths)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log requests and background activity")

	root.AddCommand(
		newInitCmd(a),
		newAccountCmd(a),
		newLoginCmd(a),
		newStatusCmd(a),
		newDevicesCmd(a),
		newDropCmd(a),
		newRenameCmd(a),
		newDaemonCmd(a),
	)
	return root
}
