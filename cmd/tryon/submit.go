package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tryon/internal/client"
	"tryon/internal/imagedata"
	"tryon/internal/imageprep"
	"tryon/internal/storage"
	"tryon/internal/workflow"
)

// maxAutoRetryWait caps how long --auto-retry will sleep before giving up.
const maxAutoRetryWait = 2 * time.Minute

type submitOptions struct {
	server      string
	timeout     time.Duration
	model       string
	apparel     []string
	out         string
	maxAttempts int
	autoRetry   bool
}

func submitCmd() *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Generate a try-on image",
		Example: `  tryon submit --model me.jpg --apparel shirt.png --apparel jacket.jpg
  tryon submit --model me.jpg --apparel dress.webp --out result.png --auto-retry`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.server = viper.GetString("server")
			opts.timeout = viper.GetDuration("timeout")
			return runSubmit(cmd.Context(), opts, cmd.ErrOrStderr(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.model, "model", "", "photo of the person (required)")
	cmd.Flags().StringArrayVar(&opts.apparel, "apparel", nil, "apparel photo, repeat for several (at least one)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output file (default: tryon-<time>.<ext>)")
	cmd.Flags().IntVar(&opts.maxAttempts, "max-attempts", workflow.DefaultPolicy().MaxAttempts, "attempts before retry is disabled")
	cmd.Flags().BoolVar(&opts.autoRetry, "auto-retry", false, "retry retryable failures automatically")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("apparel")
	return cmd
}

func runSubmit(ctx context.Context, opts submitOptions, stderr io.Writer, log zerolog.Logger) error {
	model, err := os.ReadFile(opts.model)
	if err != nil {
		return fmt.Errorf("read model image: %w", err)
	}
	apparel := make([][]byte, len(opts.apparel))
	for i, path := range opts.apparel {
		if apparel[i], err = os.ReadFile(path); err != nil {
			return fmt.Errorf("read apparel image: %w", err)
		}
	}

	bar := newSpinner(stderr, "Preparing images")
	req, err := imageprep.PrepareAll(ctx, model, apparel, imageprep.DefaultBudget)
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("prepare images: %w", err)
	}

	cl := client.New(opts.server, client.WithTimeout(opts.timeout), client.WithLogger(log))
	policy := workflow.DefaultPolicy()
	policy.MaxAttempts = opts.maxAttempts
	coord := workflow.NewCoordinator(func(ctx context.Context) (string, error) {
		res, err := cl.Tryon(ctx, req)
		return res.ImageData, err
	}, policy, log)

	toaster := workflow.NewToaster(&termPresenter{w: stderr}, 0)
	defer toaster.Close()

	coord.Submit(ctx)
	for {
		st, err := waitWithSpinner(ctx, coord, newSpinner(stderr, "Generating try-on"))
		if err != nil {
			coord.Reset()
			return err
		}

		switch st.Phase {
		case workflow.Transformed:
			return saveResult(ctx, st.Image, opts.out, stderr, log)

		case workflow.Idle:
			return context.Canceled

		case workflow.Failed:
			toaster.Show(st.Err)
			if !opts.autoRetry || !coord.CanRetry() {
				return fmt.Errorf("try-on failed after %d attempt(s): %s", coord.RetryState().Attempt, st.Err.UserMessage)
			}
			next := policy.Delay(coord.RetryState().Attempt+1, st.Err.RetryAfter)
			if next > maxAutoRetryWait {
				return fmt.Errorf("try-on failed: %s (retry possible in %s)", st.Err.UserMessage, next.Round(time.Second))
			}
			coord.Retry()
			rs := coord.RetryState()
			fmt.Fprintf(stderr, "Retrying in %s (attempt %d/%d)\n", rs.NextDelay, rs.Attempt, rs.MaxAttempts)
		}
	}
}

// waitWithSpinner spins until the coordinator leaves Processing.
func waitWithSpinner(ctx context.Context, coord *workflow.Coordinator, bar *progressbar.ProgressBar) (workflow.State, error) {
	defer func() { _ = bar.Finish() }()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		changed := coord.Changed()
		if st := coord.State(); st.Phase != workflow.Processing {
			return st, nil
		}
		select {
		case <-changed:
		case <-ticker.C:
			_ = bar.Add(1)
		case <-ctx.Done():
			return coord.State(), ctx.Err()
		}
	}
}

// saveResult writes the image under a supervisor that retries transient
// file system failures and contains panics in decoding.
func saveResult(ctx context.Context, uri, out string, stderr io.Writer, log zerolog.Logger) error {
	sup := workflow.NewSupervisor(3, 200*time.Millisecond, 16, log)
	var written string
	outcome := sup.Run(ctx, func(ctx context.Context) error {
		mime, data, err := imagedata.Decode(uri)
		if err != nil {
			return err
		}
		path := out
		if path == "" {
			path = fmt.Sprintf("tryon-%s.%s", time.Now().Format("20060102-150405"), extensionFor(mime))
		}
		store, err := storage.NewFileStore(filepath.Dir(path))
		if err != nil {
			return err
		}
		path, err = store.Write(ctx, filepath.Base(path), data)
		if err != nil {
			return err
		}
		written = path
		return nil
	})
	if !outcome.OK {
		hist := sup.History()
		if len(hist) > 0 {
			return fmt.Errorf("save result: %s", hist[len(hist)-1].Detail)
		}
		return errors.New("save result: cancelled")
	}
	fmt.Fprintf(stderr, "Saved %s\n", written)
	return nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/png":
		return "png"
	}
	_, sub, _ := strings.Cut(mime, "/")
	if sub == "" {
		return "img"
	}
	return sub
}

func newSpinner(w io.Writer, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

// termPresenter prints toasts; hiding is a no-op on a line-oriented terminal.
type termPresenter struct {
	w io.Writer
}

func (p *termPresenter) Present(_ string, message string) {
	fmt.Fprintf(p.w, "! %s\n", message)
}

func (p *termPresenter) Hide(string) {}
