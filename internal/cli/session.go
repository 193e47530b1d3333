package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quiz-sync-client/internal/app"
	"quiz-sync-client/internal/state"
)

var errQuit = errors.New("quit")

func newPlayCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Join a session and answer questions from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), flags, cmd.InOrStdin(), cmd.OutOrStdout(), true)
		},
	}
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow a session without joining it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), flags, nil, cmd.OutOrStdout(), false)
		},
	}
}

func runSession(parent context.Context, flags *globalFlags, in io.Reader, out io.Writer, play bool) error {
	if parent == nil {
		parent = context.Background()
	}
	if play && flags.displayName == "" {
		return errors.New("--name is required to play")
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, flags)
	if err != nil {
		return err
	}
	defer rt.close()

	log.Logger = log.With().Str("instance_id", uuid.NewString()).Str("session_id", flags.sessionID).Logger()

	opts := []app.Option{app.WithLedger(rt.ledger())}
	rec := rt.recorder()
	if rec != nil {
		opts = append(opts, app.WithRecorder(rec))
	}
	engine := app.NewEngine(app.Config{SessionID: flags.sessionID, DisplayName: flags.displayName}, rt.conn, rt.api, opts...)

	if play {
		err = engine.Join(ctx)
	} else {
		err = engine.Load(ctx)
	}
	if err != nil {
		return err
	}

	snaps, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	if rec != nil {
		g.Go(func() error { return rec.Run(gctx) })
	}

	prompts := newPromptClock(time.Now)
	g.Go(func() error {
		prev := state.Snapshot{}
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case snap := <-snaps:
				if q, _ := activeQuestion(snap); q != nil {
					prompts.seen(q.ID)
				}
				render(out, prev, snap)
				prev = snap
			}
		}
	})
	if play && in != nil {
		lines := readLines(in)
		g.Go(func() error { return playLoop(gctx, engine, lines, prompts, out) })
	}

	if err := engine.Connect(gctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	err = g.Wait()
	engine.Close()
	if rec != nil && rec.Dropped() > 0 {
		log.Warn().Int64("dropped", rec.Dropped()).Msg("journal dropped events")
	}
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func playLoop(ctx context.Context, engine *app.Engine, lines <-chan string, prompts *promptClock, out io.Writer) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = l
		}

		c, err := parseCommand(line)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		switch c.kind {
		case cmdQuit:
			return errQuit
		case cmdAck:
			engine.AcknowledgeResult()
			engine.ClearError()
		case cmdRefresh:
			if err := engine.RefreshParticipants(ctx); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		case cmdAnswer:
			q, revival := activeQuestion(engine.Snapshot())
			if q == nil {
				fmt.Fprintln(out, "! no question to answer")
				continue
			}
			elapsed := prompts.elapsed(q.ID)
			submit := engine.SubmitAnswer
			if revival {
				submit = engine.SubmitRevivalAnswer
			}
			if _, err := submit(ctx, c.option, elapsed); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

// readLines feeds r line by line into a channel that closes at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
