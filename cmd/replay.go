package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/config"
	"github.com/fakeyudi/viewtrack/internal/delivery"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/journal"
	"github.com/fakeyudi/viewtrack/internal/report"
	"github.com/fakeyudi/viewtrack/internal/schedule"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
	"github.com/fakeyudi/viewtrack/internal/viewer"
)

var (
	replayDeliver bool
	replayFollow  bool
	replayFormat  string
	replayOutput  string
)

// errStale stops a replay whose session ended on an absence timeout.
var errStale = errors.New("session went stale")

var replayCmd = &cobra.Command{
	Use:   "replay <journal>",
	Short: "Rebuild a session from its journal and write a report",
	Long: `Replay feeds a session journal through a viewer and writes the final
session report. Journal timestamps drive the clock, so flushes and the
identification handshake happen when they did in the recorded session.

With --follow the journal is tailed in real time until it is removed or
the command is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		c := GetConfig()

		format := replayFormat
		if format == "" {
			format = c.ReportFormat
		}
		renderer, err := report.RendererFor(format)
		if err != nil {
			return err
		}

		var sender schedule.Sender = logSender{log: log}
		if replayDeliver {
			sender = delivery.New(deliveryConfig(c))
		}

		var snap telemetry.Snapshot
		if replayFollow {
			snap, err = followJournal(cmd.Context(), path, c, sender)
		} else {
			snap, err = replayJournal(path, c, sender)
		}
		if err != nil {
			return err
		}

		data, err := renderer.Render(report.New(snap))
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		if replayOutput == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(replayOutput, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		cmd.Printf("Report written to %s\n", replayOutput)
		return nil
	},
}

// replayer feeds journal entries to one viewer.
type replayer struct {
	cfg    config.Config
	sender schedule.Sender
	ids    *identity.Context

	// fake is set when journal timestamps drive the clock.
	fake *clock.FakeClock
	clk  clock.Clock
	v    *viewer.Viewer
}

func (r *replayer) mount(at time.Time, subject telemetry.Subject) error {
	if r.v != nil {
		return fmt.Errorf("journal mounts a second subject at %s", at.Format(time.RFC3339))
	}
	opts := viewerOptions(r.cfg, subject.Surface)
	opts.Logger = log
	if r.fake != nil {
		// Deliveries finish before the clock moves on.
		opts.Schedule.Dispatch = func(f func()) { f() }
	}
	v, err := viewer.Mount(r.clk, subject, r.ids, r.sender, opts)
	if err != nil {
		return fmt.Errorf("mount %s: %w", subject.ID, err)
	}
	r.v = v
	return nil
}

// apply feeds one entry. Entries at or before the current clock time are
// applied without moving it.
func (r *replayer) apply(e journal.Entry) error {
	if e.Type == journal.TypeMount {
		return r.mount(e.At, *e.Subject)
	}
	if r.v == nil {
		return journal.ErrNoMount
	}
	if r.fake != nil && e.At.After(r.fake.Now()) {
		r.fake.AdvanceTo(e.At)
	}
	if err := r.stale(); err != nil {
		return err
	}

	if e.Type == journal.TypeIdentity {
		r.ids.Update(*e.Identity)
		return nil
	}
	if err := r.v.Handle(e.Notification); err != nil {
		return err
	}
	return r.stale()
}

func (r *replayer) stale() error {
	select {
	case <-r.v.Stale():
		return errStale
	default:
		return nil
	}
}

// close tears the viewer down. A failed final flush is logged, not
// returned: the report is still worth writing.
func (r *replayer) close() (telemetry.Snapshot, error) {
	if r.v == nil {
		return telemetry.Snapshot{}, journal.ErrNoMount
	}
	snap, err := r.v.Close()
	if err != nil {
		log.Warn("final flush failed", zap.String("session_id", snap.SessionID), zap.Error(err))
	}
	return snap, nil
}

func replayJournal(path string, c config.Config, sender schedule.Sender) (telemetry.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return telemetry.Snapshot{}, fmt.Errorf("file not found: %s", path)
		}
		return telemetry.Snapshot{}, err
	}
	defer f.Close()

	j, err := journal.Read(f)
	if err != nil {
		return telemetry.Snapshot{}, fmt.Errorf("read journal %s: %w", path, err)
	}

	fake := clock.Fake(j.Start)
	r := &replayer{cfg: c, sender: sender, ids: identity.NewContext(identity.Pending()), fake: fake, clk: fake}
	if err := r.mount(j.Start, j.Subject); err != nil {
		return telemetry.Snapshot{}, err
	}
	for _, e := range j.Entries {
		if err := r.apply(e); err != nil {
			if errors.Is(err, errStale) {
				log.Info("session went stale; ignoring the rest of the journal", zap.Time("at", e.At))
				break
			}
			r.close()
			return telemetry.Snapshot{}, err
		}
	}
	return r.close()
}

// followJournal tails a live journal on the real clock. The device's user
// id is kept in the user id store so later sessions report the same id.
func followJournal(ctx context.Context, path string, c config.Config, sender schedule.Sender) (telemetry.Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ids := identity.NewContext(identity.Pending())
	if store, err := identity.NewUserIDStore(); err != nil {
		log.Warn("user id store unavailable", zap.Error(err))
	} else {
		if id, err := store.Load(); err == nil {
			ids.Update(identity.Identity{UserID: id})
		} else if !errors.Is(err, identity.ErrNoUserID) {
			log.Warn("loading stored user id", zap.Error(err))
		}
		saved := ""
		ids.Subscribe(func(id identity.Identity) {
			if id.Stable() && id.UserID != saved {
				if err := store.Save(id.UserID); err != nil {
					log.Warn("saving user id", zap.Error(err))
					return
				}
				saved = id.UserID
			}
		})
	}

	r := &replayer{cfg: c, sender: sender, ids: ids, clk: clock.Real()}
	err := journal.Follow(ctx, path, r.apply)
	switch {
	case err == nil, errors.Is(err, errStale), errors.Is(err, journal.ErrRemoved):
	default:
		if r.v != nil {
			r.close()
		}
		return telemetry.Snapshot{}, err
	}
	return r.close()
}

// logSender reports flushes to the log instead of the network.
type logSender struct {
	log *zap.Logger
}

func (s logSender) SendSnapshot(_ context.Context, snap telemetry.Snapshot) error {
	s.log.Info("flush",
		zap.String("session_id", snap.SessionID),
		zap.String("surface", string(snap.Subject.Surface)),
		zap.Duration("active_time", snap.ActiveTime),
		zap.Bool("final", snap.Final),
	)
	return nil
}

func (s logSender) Identify(_ context.Context, req delivery.IdentifyRequest) error {
	s.log.Info("identify", zap.String("session_id", req.SessionID))
	return nil
}

func init() {
	replayCmd.Flags().BoolVar(&replayDeliver, "deliver", false, "post flushes to the configured endpoints instead of logging them")
	replayCmd.Flags().BoolVar(&replayFollow, "follow", false, "tail the journal in real time")
	replayCmd.Flags().StringVar(&replayFormat, "format", "", "report format: markdown or json (overrides config)")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(replayCmd)
}
