package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"tunet/internal/config"
	"tunet/internal/handler"
	"tunet/internal/hub"
	"tunet/internal/session"
	"tunet/internal/trigger"
	"tunet/internal/watcher"
)

func newDaemonCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Keep the session alive and serve the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(os.Stderr)
			if listen == "" {
				listen = a.cfg.Server.Listen
			}
			return runDaemon(cmd.Context(), a, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "API listen address (default from config)")
	return cmd
}

func policyFrom(cfg *config.Config) trigger.Policy {
	return trigger.Policy{
		AutoLogOn:   cfg.Account.AutoLogOn,
		SkipMetered: cfg.EffectiveBehavior().SkipMetered,
		CheckLink:   cfg.Account.CheckLink,
	}
}

func runDaemon(parent context.Context, a *app, listen string) error {
	log.Println("Starting tunet daemon...")
	log.Println(a.cfg.Summary())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := session.NewQueueDispatcher(256)
	defer dispatcher.Close()

	sess, err := a.newSession(ctx, dispatcher)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.LoadCache(ctx); err != nil {
		return err
	}

	// SSE hub
	sseHub := hub.New()
	go sseHub.Run(ctx)
	sseHub.Attach(ctx, sess.Notifier())

	// Background runner
	behavior := a.cfg.EffectiveBehavior()
	runner := trigger.NewRunner(sess, policyFrom(a.cfg), behavior.MinTriggerInterval)
	runner.OnFirstSuccess(func(out trigger.Outcome) {
		log.Printf("Logged on as %s after %s change", sess.Username(), out.Change.Kind)
		sseHub.Broadcast("logon", map[string]string{"username": sess.Username()})
	})
	runner.OnOutcome(func(out trigger.Outcome) {
		sseHub.Broadcast("trigger", map[string]interface{}{
			"change": out.Change,
			"action": out.Action.String(),
			"ok":     out.OK(),
		})
	})

	schedule, err := trigger.NewSchedule(behavior.RefreshSchedule)
	if err != nil {
		return err
	}
	poller := trigger.NewInterfacePoller(behavior.PollInterval)
	runner.Start(ctx, poller, schedule)
	runner.Notify(trigger.Change{Kind: trigger.ChangeStartup})

	// Config hot reload
	if a.configPath != "" {
		reloader := watcher.New(a.configPath, func(cfg *config.Config) {
			b := cfg.EffectiveBehavior()
			runner.SetPolicy(policyFrom(cfg))
			runner.SetMinInterval(b.MinTriggerInterval)
			if err := schedule.Reschedule(b.RefreshSchedule); err != nil {
				log.Printf("Failed to reschedule refresh: %v", err)
			}
		})
		go func() {
			if err := reloader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Config watcher stopped: %v", err)
			}
		}()
	}

	// HTTP API
	router := mux.NewRouter()
	api := handler.NewSessionHandler(sess)
	api.SetTrigger(runner)
	api.Routes(router)
	router.Handle("/events", sseHub).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              listen,
		Handler:           handler.Chain(router, handler.Recover, handler.Logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("API listening on %s", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			runner.Wait()
			return err
		}
	}

	log.Println("Shutting down daemon...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	runner.Wait()
	if err := sess.SaveCache(shutdownCtx); err != nil {
		log.Printf("Failed to save cache: %v", err)
	}

	log.Println("Daemon stopped")
	return nil
}
