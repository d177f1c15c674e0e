package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/leafcutter/leafcutter/internal/playback"
	"github.com/leafcutter/leafcutter/pkg/tree"
)

func (a *app) cmdPreview(ctx context.Context, args []string) error {
	fs := newFlagSet("preview", "[flags] <locator>")
	width := fs.Int("width", 64, "Waveform width in columns")
	play := fs.Bool("play", false, "Run the playhead for the sample duration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one sample locator is required")
	}
	if *width < 1 {
		return fmt.Errorf("width must be positive, got %d", *width)
	}

	locator := fs.Arg(0)
	if !tree.IsRemote(locator) {
		abs, err := filepath.Abs(locator)
		if err != nil {
			return err
		}
		locator = abs
	}

	store, _, err := a.openStore()
	if err != nil {
		return err
	}
	data, err := store.GetFile(ctx, locator)
	if err != nil {
		return err
	}
	buf, err := playback.DecodeWAV(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", locator, err)
	}

	peaks := playback.Peaks(buf.Samples, *width)
	fmt.Println(titleStyle.Render(tree.Base(locator)) + "  " +
		mutedStyle.Render(fmt.Sprintf("%d Hz, %d ch, %s", buf.SampleRate, buf.Channels, buf.Duration().Round(time.Millisecond))))

	if !*play {
		fmt.Println(renderWaveform(peaks, 0))
		return nil
	}

	ctrl := playback.NewController(playback.ClockEngine{}, playback.WithPublisher(a.broadcaster))
	if err := ctrl.Play(buf, locator); err != nil {
		return err
	}
	defer ctrl.StopAll()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		elapsed, duration, ok := ctrl.Position(locator)
		if !ok {
			elapsed, duration = buf.Duration(), buf.Duration()
		}
		x := int(playback.PlayheadX(elapsed, duration, float64(*width)))
		fmt.Printf("\r%s %s", renderWaveform(peaks, x), mutedStyle.Render(elapsed.Round(10*time.Millisecond).String()))
		if !ok {
			fmt.Println()
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}
	}
}
