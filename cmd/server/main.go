package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kristofsajdak/claude-whiteboard/pkg/api"
	"github.com/kristofsajdak/claude-whiteboard/pkg/hub"
	"github.com/kristofsajdak/claude-whiteboard/pkg/render"
	"github.com/kristofsajdak/claude-whiteboard/pkg/store"
	"github.com/kristofsajdak/claude-whiteboard/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "path to an optional yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on")
	databaseVar := flag.String("database", "", "path to the sqlite database")
	sessionVar := flag.String("session", "", "session name (creates new or resumes existing)")
	listVar := flag.Bool("list", false, "list existing sessions and exit")
	flag.Parse()

	cfg, err := loadConfig(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}
	if *databaseVar != "" {
		cfg.Database = *databaseVar
	}
	if *sessionVar != "" {
		cfg.Session = *sessionVar
	}
	if cfg.Session == "" {
		cfg.Session = defaultSessionName(time.Now())
	}

	slog.Info("Opening database", "path", cfg.Database)
	db, err := sql.Open("sqlite3", cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if *listVar {
		sessions, err := store.ListSessions(context.Background(), db)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found")
			return nil
		}
		fmt.Println("Available sessions:")
		for _, s := range sessions {
			fmt.Printf("  - %s\n", s)
		}
		return nil
	}

	slog.Info("Opening session", "session", cfg.Session)
	st, err := store.Open(context.Background(), db, cfg.Session)
	if err != nil {
		return err
	}

	h := hub.New(st)
	r := api.NewRouter(st, h)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: r}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", cfg.Addr, "session", cfg.Session)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()

	dumpSession(st)
	return nil
}

// dumpSession renders the final canvas and savepoint history into the temp
// dir so the last state of a session is easy to inspect after shutdown.
func dumpSession(st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := st.Document(ctx)
	if err != nil {
		slog.Error("failed to read canvas for dump", "err", err)
		return
	}
	if pngPath, err := render.ToTempFile(doc); err != nil {
		slog.Error("failed to render canvas", "err", err)
	} else {
		slog.Info("rendered", "session", st.SessionName(), "path", "file://"+pngPath)
	}
	savepoints, err := st.ListSavepoints(ctx)
	if err != nil {
		slog.Error("failed to list savepoints for dump", "err", err)
		return
	}
	if svgPath, err := viz.RenderHistoryToTemp(st.SessionName(), savepoints, doc); err != nil {
		slog.Error("failed to render history", "err", err)
	} else {
		slog.Info("rendered", "session", st.SessionName(), "path", "file://"+svgPath)
	}
}
