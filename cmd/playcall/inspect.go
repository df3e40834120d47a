package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/MrWong99/playcall/internal/config"
	"github.com/MrWong99/playcall/internal/media"
)

// runInspect probes the configured media source with ffprobe and prints a
// stream table, so a file can be checked before a full session is started.
func runInspect(ctx context.Context, cfg *config.Config) int {
	if cfg.Media.Source == "" {
		fmt.Fprintln(os.Stderr, "playcall: -inspect needs a media source (-source or media.source in the config)")
		return 1
	}

	result, err := media.Inspect(ctx, cfg.Media.FFprobe, cfg.Media.Source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "playcall: %v\n", err)
		return 1
	}

	fmt.Printf("%s (%s, %.1fs, %d streams)\n",
		result.Format.Filename,
		result.Format.FormatName,
		result.DurationSeconds(),
		result.Format.NBStreams,
	)
	fmt.Println(renderStreamTable(result))

	if _, ok := result.AudioStream(); !ok {
		fmt.Println("note: no audio stream — the session would run commentary only")
	}
	return 0
}

// renderStreamTable formats the probed streams as a rounded table.
func renderStreamTable(result media.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Type", "Codec", "Details", "Bitrate"})

	for _, s := range result.Streams {
		tw.AppendRow(table.Row{
			s.Index,
			s.CodecType,
			s.CodecName,
			streamDetails(s),
			bitrate(s.BitRate),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return tw.Render()
}

// streamDetails summarises the dimensions of a stream: resolution for video,
// rate and channel layout for audio.
func streamDetails(s media.Stream) string {
	switch strings.ToLower(s.CodecType) {
	case "video":
		return fmt.Sprintf("%dx%d", s.Width, s.Height)
	case "audio":
		layout := "mono"
		if s.Channels == 2 {
			layout = "stereo"
		} else if s.Channels > 2 {
			layout = fmt.Sprintf("%dch", s.Channels)
		}
		return fmt.Sprintf("%d Hz %s", s.SampleRateHz(), layout)
	default:
		return ""
	}
}

// bitrate renders an ffprobe bit_rate string in kb/s, or "-" when absent.
func bitrate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "-"
	}
	var bps int
	if _, err := fmt.Sscanf(raw, "%d", &bps); err != nil || bps <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d kb/s", bps/1000)
}
