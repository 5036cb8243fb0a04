package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/geoclip/geoclip/internal/apiclient"
	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/videos"
)

func newVideosCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "videos",
		Aliases: []string{"video"},
		Short:   "Browse your uploaded videos",
	}
	cmd.AddCommand(newVideosListCommand(ctx))
	cmd.AddCommand(newVideosShowCommand(ctx))
	cmd.AddCommand(newVideosDownloadCommand(ctx))
	cmd.AddCommand(newVideosDeleteCommand(ctx))
	return cmd
}

func newVideosListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List videos, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, snap, err := ctx.signedIn(cmd)
			if err != nil {
				return err
			}
			list, err := ctx.client.ListVideos(cmd.Context(), snap.Token)
			if err != nil {
				return ctx.requestFailure(cmd, "list videos", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No videos yet. Record one with `clipctl record`.")
				return nil
			}
			fmt.Fprintln(out, renderVideoList(list, time.Now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func renderVideoList(list []models.VideoSummary, now time.Time) string {
	rows := make([][]string, 0, len(list))
	for _, video := range list {
		rows = append(rows, []string{
			video.ID,
			formatRecorded(video.Timestamp, now),
			formatLocation(video.LocationLat, video.LocationLng),
			formatPhone(video.PhoneNumber),
		})
	}
	return renderTable([]string{"ID", "Recorded", "Location", "Phone / device"}, rows, nil)
}

func newVideosShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one video's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := fetchVideo(cmd, ctx, args[0])
			if err != nil {
				return err
			}

			clip, err := videos.ParseDataURI(detail.VideoData)
			if err != nil {
				return fmt.Errorf("decode video %s: %w", detail.ID, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPairs([][2]string{
				{"ID", detail.ID},
				{"Recorded", formatRecorded(detail.Timestamp, time.Now())},
				{"Location", formatLocation(detail.LocationLat, detail.LocationLng)},
				{"Phone / device", formatPhone(detail.PhoneNumber)},
				{"Media type", clip.MediaType},
				{"Size", humanize.Bytes(uint64(len(clip.Data)))},
			}))
			return nil
		},
	}
}

func newVideosDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Save a video to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := fetchVideo(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			clip, err := videos.ParseDataURI(detail.VideoData)
			if err != nil {
				return fmt.Errorf("decode video %s: %w", detail.ID, err)
			}

			target := strings.TrimSpace(output)
			if target == "" {
				target = detail.ID + extensionFor(clip.MediaType)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			if err := os.WriteFile(target, clip.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s) to %s\n", detail.ID, humanize.Bytes(uint64(len(clip.Data))), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default <id>.<ext>)")
	return cmd
}

func newVideosDeleteCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a video",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, snap, err := ctx.signedIn(cmd)
			if err != nil {
				return err
			}

			id := args[0]
			if !yes {
				if !isInteractive(cmd.InOrStdin()) {
					return errors.New("refusing to delete without confirmation; pass --yes")
				}
				ok, err := newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()).confirm(fmt.Sprintf("Delete video %s?", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			if err := ctx.client.DeleteVideo(cmd.Context(), snap.Token, id); err != nil {
				return ctx.requestFailure(cmd, "delete video", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func fetchVideo(cmd *cobra.Command, ctx *commandContext, id string) (models.VideoDetail, error) {
	_, snap, err := ctx.signedIn(cmd)
	if err != nil {
		return models.VideoDetail{}, err
	}
	detail, err := ctx.client.GetVideo(cmd.Context(), snap.Token, id)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return models.VideoDetail{}, fmt.Errorf("video %s not found", id)
		}
		return models.VideoDetail{}, ctx.requestFailure(cmd, "fetch video", err)
	}
	return detail, nil
}

func formatRecorded(ts models.Timestamp, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", ts.Local().Format("2006-01-02 15:04"), humanize.RelTime(ts.Time, now, "ago", "from now"))
}

func formatLocation(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f, %.5f", *lat, *lng)
}

func formatPhone(phone *string) string {
	if phone == nil || strings.TrimSpace(*phone) == "" {
		return "-"
	}
	return *phone
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/3gpp":
		return ".3gp"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
