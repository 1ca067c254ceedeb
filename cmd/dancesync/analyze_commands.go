package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dancesync/dancesync-agent/internal/align"
	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/compare"
	"github.com/dancesync/dancesync-agent/internal/pipeline"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var refPath, userPath string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score two single-person poses",
		Long:  "Each file holds one person as 17 keypoints of {\"x\", \"y\", \"confidence\"}.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref, user pose.PersonPose
			if err := readJSONFile(refPath, &ref); err != nil {
				return fmt.Errorf("read reference pose: %w", err)
			}
			if err := readJSONFile(userPath, &user); err != nil {
				return fmt.Errorf("read user pose: %w", err)
			}

			sim := pose.Score(ref, user)
			if ctx.wantJSON() {
				return writeJSON(cmd, map[string]float64{"similarity": sim})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "similarity: %.4f\n", sim)
			return nil
		},
	}

	cmd.Flags().StringVar(&refPath, "ref", "", "Reference pose file")
	cmd.Flags().StringVar(&userPath, "user", "", "User pose file")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCompareCommand(ctx *commandContext) *cobra.Command {
	var refTrackPath, userTrackPath, refBeatsPath, userBeatsPath string
	var fps int

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare two pose tracks at their beats",
		Long: "Pose tracks are pose.json artifacts written by the pose pipeline. " +
			"Beat files hold {\"tempo\": ..., \"beat_times\": [...]}.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fps <= 0 {
				return errors.New("--fps must be a positive integer")
			}
			logger := ctx.ensureLogger()

			refTrack, _, _, err := pipelines.LoadPoseTrack(refTrackPath, logger)
			if err != nil {
				return fmt.Errorf("reference track: %w", err)
			}
			userTrack, _, _, err := pipelines.LoadPoseTrack(userTrackPath, logger)
			if err != nil {
				return fmt.Errorf("user track: %w", err)
			}
			var refBeats, userBeats beats.Track
			if err := readJSONFile(refBeatsPath, &refBeats); err != nil {
				return fmt.Errorf("reference beats: %w", err)
			}
			if err := readJSONFile(userBeatsPath, &userBeats); err != nil {
				return fmt.Errorf("user beats: %w", err)
			}

			res, err := compare.Compare(refTrack, userTrack, refBeats.BeatTimes, userBeats.BeatTimes, fps)
			if err != nil {
				return err
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCompareTable(res))
			fmt.Fprintf(cmd.OutOrStdout(), "average similarity: %.4f over %d beats\n", res.AverageSimilarity, res.NumBeatsAnalyzed)
			return nil
		},
	}

	cmd.Flags().StringVar(&refTrackPath, "ref-track", "", "Reference pose artifact")
	cmd.Flags().StringVar(&userTrackPath, "user-track", "", "User pose artifact")
	cmd.Flags().StringVar(&refBeatsPath, "ref-beats", "", "Reference beats file")
	cmd.Flags().StringVar(&userBeatsPath, "user-beats", "", "User beats file")
	cmd.Flags().IntVar(&fps, "fps", compare.DefaultFPS, "Frame rate used to map beats to frames")
	for _, name := range []string{"ref-track", "user-track", "ref-beats", "user-beats"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func renderCompareTable(res compare.Result) string {
	rows := make([][]string, 0, len(res.Results))
	for i, r := range res.Results {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(r.Timestamp, 'f', 3, 64),
			strconv.Itoa(r.Frame),
			strconv.Itoa(r.UserFrame),
			strconv.FormatFloat(r.Similarity, 'f', 4, 64),
		})
	}
	return renderTable(
		[]string{"Beat", "Time (s)", "Ref Frame", "User Frame", "Similarity"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func newAlignCommand(ctx *commandContext) *cobra.Command {
	var refPath, userPath string

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Detect whether two videos share a song and their time offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.ensureLogger()

			pr, err := pipelines.NewRunner(pipelineConfig(cfg, logger))
			if err != nil {
				return fmt.Errorf("beat pipeline unavailable: %w", err)
			}
			ffmpeg := pipeline.NewRealFFmpeg(logger)
			decoder := audio.NewFFmpegDecoder(ffmpeg, cfg.SampleRate(), "", logger)
			extractor := beats.NewExtractor(pipelines.NewBeatTracker(pr, "", logger), decoder, logger)

			res, err := align.NewAligner(extractor, logger).AlignVideos(cmd.Context(), refPath, userPath)
			if err != nil {
				return err
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAlignTable(res))
			return nil
		},
	}

	cmd.Flags().StringVar(&refPath, "ref", "", "Reference video")
	cmd.Flags().StringVar(&userPath, "user", "", "User video")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func renderAlignTable(res align.Result) string {
	rows := [][]string{
		{"Same song", strconv.FormatBool(res.IsSameSong)},
		{"Reference tempo", strconv.FormatFloat(res.RefTempo, 'f', 2, 64)},
		{"User tempo", strconv.FormatFloat(res.UserTempo, 'f', 2, 64)},
		{"Offset (s)", strconv.FormatFloat(res.TimeOffsetSeconds, 'f', 3, 64)},
		{"Start later", res.OffsetVideo},
		{"Reference beats", strconv.Itoa(len(res.RefBeats))},
		{"User beats", strconv.Itoa(len(res.UserBeats))},
	}
	return renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
