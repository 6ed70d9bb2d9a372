package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/api"
	"github.com/DoyleJ11/truthdare-live/internal/config"
	"github.com/DoyleJ11/truthdare-live/internal/httpapi"
	"github.com/DoyleJ11/truthdare-live/internal/journal"
	"github.com/DoyleJ11/truthdare-live/internal/live"
	"github.com/DoyleJ11/truthdare-live/internal/metrics"
	"github.com/DoyleJ11/truthdare-live/internal/reconcile"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/DoyleJ11/truthdare-live/internal/session"
	"github.com/DoyleJ11/truthdare-live/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	journalWriteTimeout = 5 * time.Second
)

// lockedWriter serializes writes from the session loop and the update reader.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// seat is who we watch the room as.
type seat struct {
	code       string
	roomID     string
	playerID   string
	adminToken string
}

func watch(ctx context.Context, cfg config.Config, out io.Writer) error {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	out = &lockedWriter{w: out}

	pushURL, err := config.ResolvePushURL(cfg.PushURL, config.DevPushURL, cfg.Origin)
	if err != nil {
		return err
	}
	rest, err := restClient(&cfg)
	if err != nil {
		return err
	}

	s, err := takeSeat(ctx, cfg, rest)
	if err != nil {
		return err
	}
	log = log.With(zap.String("room", s.code))
	switch {
	case s.adminToken != "":
		fmt.Fprintf(out, "room %s created (id %s), admin token: %s\n", s.code, s.roomID, s.adminToken)
	case s.roomID != "":
		fmt.Fprintf(out, "joined room %s (id %s) as player %s\n", s.code, s.roomID, s.playerID)
	}
	if cfg.QR {
		if err := printQR(out, config.JoinLink(cfg.Origin, s.code)); err != nil {
			log.Warn("qr code failed", zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var j *journal.Journal
	if cfg.JournalDSN != "" {
		if j, err = journal.Open(cfg.JournalDSN, log); err != nil {
			return err
		}
		defer func() { _ = j.Close() }()
	}

	client := live.NewClient(ctx, live.Config{
		URL: pushURL,
		Adapter: &transport.STOMP{
			Dial:      transport.WebSocketDialer(nil),
			HeartBeat: cfg.HeartBeat,
			Logger:    log,
		},
		Fetcher:      rest,
		Backoff:      cfg.NewBackoff,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       log,
		Metrics:      m,
		OnStatus: func(snap session.Snapshot) {
			if snap.State == session.Reconnecting {
				fmt.Fprintf(out, "connection lost, retrying (attempt %d)\n", snap.Attempts)
			}
		},
	})
	defer client.Close()

	r, err := client.Join(ctx, s.code, s.playerID)
	if err != nil {
		return err
	}
	log.Info("watching room", zap.String("push", pushURL), zap.String("player", s.playerID))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for v := range r.Updates() {
			printView(out, v)
			if j == nil || v.Phase != reconcile.PhaseReady {
				continue
			}
			journalView(gctx, j, log, r.ID, v)
		}
		return nil
	})

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           httpapi.SetupRoutes(client, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		r.Leave()
		return nil
	})

	return g.Wait()
}

type roomAPI interface {
	CreateRoom(ctx context.Context, mode room.GameMode, playerName string) (api.CreateRoomResponse, error)
	JoinRoom(ctx context.Context, roomCode, playerName string) (api.JoinRoomResponse, error)
}

// takeSeat creates or joins the room over REST as needed. Watching with
// neither --name nor --player-id is anonymous.
func takeSeat(ctx context.Context, cfg config.Config, rest roomAPI) (seat, error) {
	if cfg.Create {
		mode := room.GameMode(strings.ToUpper(cfg.GameMode))
		resp, err := rest.CreateRoom(ctx, mode, cfg.PlayerName)
		if err != nil {
			return seat{}, err
		}
		return seat{code: resp.RoomCode, roomID: resp.RoomID, playerID: resp.PlayerID, adminToken: resp.AdminToken}, nil
	}
	code, err := room.NormalizeCode(cfg.RoomCode)
	if err != nil {
		return seat{}, err
	}
	s := seat{code: code, playerID: cfg.PlayerID}
	if s.playerID != "" || strings.TrimSpace(cfg.PlayerName) == "" {
		return s, nil
	}
	resp, err := rest.JoinRoom(ctx, code, cfg.PlayerName)
	if err != nil {
		return seat{}, err
	}
	if !resp.Success && resp.PlayerID == "" {
		return seat{}, fmt.Errorf("join %s: %s", code, resp.Message)
	}
	s.roomID, s.playerID = resp.RoomID, resp.PlayerID
	return s, nil
}

type snapshotRecorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// journalView stores a ready view. Writes outlive ctx for a short while so the
// last views before shutdown still land.
func journalView(ctx context.Context, rec snapshotRecorder, log *zap.Logger, sessionID string, v reconcile.View) {
	e, err := journal.NewEntry(sessionID, v, time.Now())
	if err != nil {
		log.Warn("journal entry skipped", zap.Int("version", v.Version), zap.Error(err))
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
	defer cancel()
	if err := rec.Record(wctx, e); err != nil {
		log.Warn("journal write failed", zap.Int("version", v.Version), zap.Error(err))
	}
}

// printView writes one line per view in a single Write.
func printView(out io.Writer, v reconcile.View) {
	var b strings.Builder
	switch v.Phase {
	case reconcile.PhaseFailed:
		fmt.Fprintf(&b, "could not load room %s: %v\n", v.RoomCode, v.Err)
	case reconcile.PhaseStopped:
		fmt.Fprintf(&b, "left room %s\n", v.RoomCode)
	case reconcile.PhaseLoading:
		return
	default:
		s := v.State
		fmt.Fprintf(&b, "[v%d] %s %s, %d players", v.Version, s.Code, s.Status, len(s.Players))
		if s.CurrentPlayer != nil {
			fmt.Fprintf(&b, ", turn: %s", s.CurrentPlayer.Name)
		}
		if q := s.CurrentQuestion; q != nil {
			fmt.Fprintf(&b, ", %s: %q", q.Type, q.Text)
		}
		if v.IsAdmin {
			b.WriteString(" (you are admin)")
		}
		b.WriteString("\n")
	}
	_, _ = io.WriteString(out, b.String())
}

func printQR(out io.Writer, link string) error {
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, q.ToString(false))
	fmt.Fprintln(out, link)
	return nil
}
