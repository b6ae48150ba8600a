package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/client/appwrite"
	"github.com/atinyakov/HabitKeeper/internal/client/habits"
	"github.com/atinyakov/HabitKeeper/internal/client/prompt"
	"github.com/atinyakov/HabitKeeper/internal/client/realtime"
	"github.com/atinyakov/HabitKeeper/internal/client/routeguard"
	"github.com/atinyakov/HabitKeeper/internal/client/session"
	"github.com/atinyakov/HabitKeeper/internal/client/storage"
	"github.com/atinyakov/HabitKeeper/internal/config"
	"github.com/atinyakov/HabitKeeper/internal/logger"
	"github.com/atinyakov/HabitKeeper/internal/metrics"
	"github.com/atinyakov/HabitKeeper/internal/models"
	handler "github.com/atinyakov/HabitKeeper/internal/server/handler/http"
)

var (
	version   string
	buildDate string
)

const helpText = `Available commands:
  help                      show this message
  signup                    create an account and sign in
  signin                    sign in with email and password
  signout                   end the current session
  whoami                    show the signed-in identity
  list                      show your habits
  refresh                   re-fetch your habits
  add                       create a habit
  complete <id>             mark a habit done for this period
  delete <id>               delete a habit
  swipe <left|right> <id>   left deletes, right completes
  exit                      quit`

// app holds the wired components the shell drives.
type app struct {
	sessions *session.Store
	habits   *habits.Sync
	prompter *prompt.Prompter
	out      io.Writer
	log      *zap.Logger
}

func main() {
	opts, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.ShowVersion {
		fmt.Printf("HabitKeeper Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	lg := logger.New()
	var outputs []string
	if opts.LogFile != "" {
		outputs = append(outputs, opts.LogFile)
	}
	if err := lg.Init(opts.LogLevel, outputs...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Log.Sync() }()

	if err := run(opts, lg.Log); err != nil {
		lg.Log.Error("client stopped", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts *config.Options, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	httpClient, err := appwrite.NewHTTPClient(opts.CAFile, opts.RequestTimeout)
	if err != nil {
		return err
	}
	tlsConfig, err := appwrite.TLSConfig(opts.CAFile)
	if err != nil {
		return err
	}

	gateway, err := appwrite.NewClient(appwrite.Config{
		Endpoint:   opts.Endpoint,
		ProjectID:  opts.ProjectID,
		Platform:   opts.Platform,
		HTTPClient: httpClient,
		Cookies:    storage.NewSessionFile(opts.SessionFile, opts.SessionPassphrase),
		Logger:     log,
		Metrics:    collector,
	})
	if err != nil {
		return err
	}
	table := gateway.Table(opts.DatabaseID, opts.TableID)
	rt := gateway.Realtime(appwrite.RealtimeConfig{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.RequestTimeout,
			TLSClientConfig:  tlsConfig,
		},
		Logger: log,
	})

	sessions := session.New(gateway, session.WithLogger(log), session.WithMetrics(collector))
	habitSync := habits.New(sessions, table, habits.WithLogger(log), habits.WithMetrics(collector))

	bridge := realtime.New(sessions,
		realtime.SubscriberFunc(func(ctx context.Context, channel string, fn func(models.ChangeEvent)) (io.Closer, error) {
			sub, err := rt.Subscribe(ctx, channel, fn)
			if err != nil {
				return nil, err
			}
			return sub, nil
		}),
		habitSync,
		table.Channel(),
		realtime.WithLogger(log),
		realtime.WithMetrics(collector),
		realtime.WithDebounce(opts.RefreshDebounce),
	)
	bridge.Start(ctx)
	defer func() { _ = bridge.Close() }()

	guard := routeguard.New(routeguard.NavigatorFunc(func(target string) {
		fmt.Fprintf(os.Stdout, "\n[navigate] %s\n", target)
	}), routeguard.HomeLocation, log)
	guard.Watch(sessions)
	defer guard.Stop()

	// The first authenticated transition loads the habit list.
	unsub := sessions.Subscribe(func(st session.State) {
		if st.Authenticated() {
			go func() { _ = habitSync.Refresh(ctx) }()
		}
	})
	defer unsub()

	if opts.DebugAddr != "" {
		srv := &http.Server{
			Addr:              opts.DebugAddr,
			Handler:           handler.NewRouter(handler.NewDebugHandler(sessions, habitSync, log), metrics.Handler(reg), log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("debug server listening", zap.String("addr", opts.DebugAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("debug server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sessions.Rehydrate(ctx)

	a := &app{
		sessions: sessions,
		habits:   habitSync,
		prompter: prompt.New(os.Stdin, os.Stdout),
		out:      os.Stdout,
		log:      log,
	}
	return a.repl(ctx)
}

// repl runs the interactive shell loop until exit, end of input or
// cancellation.
func (a *app) repl(ctx context.Context) error {
	fmt.Fprintln(a.out, "Type 'help' for a list of commands.")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := a.prompter.Line("habits> ")
		if err != nil {
			if errors.Is(err, prompt.ErrClosed) {
				return nil
			}
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			fmt.Fprintln(a.out, "Bye")
			return nil
		}
		if err := a.dispatch(ctx, args); err != nil {
			a.report(err)
		}
	}
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "help":
		fmt.Fprintln(a.out, helpText)
	case "signup", "signin":
		email, password, err := a.prompter.Credentials()
		if err != nil {
			return err
		}
		if err := session.ValidateCredentials(email, password); err != nil {
			return err
		}
		if args[0] == "signup" {
			return a.sessions.SignUp(ctx, email, password)
		}
		return a.sessions.SignIn(ctx, email, password)
	case "signout":
		return a.sessions.SignOut(ctx)
	case "whoami":
		st := a.sessions.State()
		if !st.Authenticated() {
			fmt.Fprintf(a.out, "Not signed in (%s)\n", st.Status)
			return nil
		}
		fmt.Fprintf(a.out, "%s <%s>\n", st.Identity.ID, st.Identity.Email)
	case "list":
		a.list()
	case "refresh":
		if err := a.habits.Refresh(ctx); err != nil {
			return err
		}
		a.list()
	case "add":
		draft, err := a.prompter.Habit()
		if err != nil {
			return err
		}
		if err := a.habits.Create(ctx, draft.Title, draft.Description, draft.Frequency); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Habit created")
	case "complete":
		if len(args) < 2 {
			fmt.Fprintln(a.out, "Usage: complete <id>")
			return nil
		}
		if err := a.habits.Complete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Habit completed")
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(a.out, "Usage: delete <id>")
			return nil
		}
		if err := a.habits.DeleteByID(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Habit deleted")
	case "swipe":
		if len(args) < 3 {
			fmt.Fprintln(a.out, "Usage: swipe <left|right> <id>")
			return nil
		}
		dir, err := habits.ParseDirection(args[1])
		if err != nil {
			fmt.Fprintln(a.out, "Usage: swipe <left|right> <id>")
			return nil
		}
		action, ok := habits.DecideSwipe(args[2], dir)
		if !ok {
			return nil
		}
		if err := a.habits.Apply(ctx, action); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Habit %s: %s\n", action.HabitID, action.Op)
	default:
		fmt.Fprintln(a.out, "Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func (a *app) list() {
	snap := a.habits.Snapshot()
	if snap.Loading {
		fmt.Fprintln(a.out, "(loading)")
	}
	if snap.Err != nil {
		fmt.Fprintf(a.out, "Last refresh failed: %s\n", snap.Err)
	}
	if len(snap.Habits) == 0 {
		fmt.Fprintln(a.out, "No habits yet")
		return
	}
	for _, h := range snap.Habits {
		last := "never"
		if h.StreakCount > 0 && !h.LastCompleted.IsZero() {
			last = h.LastCompleted.Local().Format(time.DateTime)
		}
		fmt.Fprintf(a.out, "%s  %-20s %-8s streak=%d last=%s\n    %s\n",
			h.ID, h.Title, h.Frequency, h.StreakCount, last, h.Description)
	}
}

// report prints the display message of err and logs unexpected failures.
func (a *app) report(err error) {
	e := models.Normalize(err, "Something went wrong")
	switch e.Kind {
	case models.KindValidation, models.KindUnauthenticated:
	default:
		a.log.Warn("command failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
	fmt.Fprintln(a.out, e.Message)
}
