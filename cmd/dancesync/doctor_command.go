package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dancesync/dancesync-agent/internal/config"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
)

func pipelineConfig(cfg *config.EnvConfig, logger *slog.Logger) pipelines.Config {
	return pipelines.Config{
		PythonPath:    cfg.PipelinesPython(),
		ModuleName:    cfg.PipelinesModule(),
		PoseModel:     cfg.PipelinesPoseModel(),
		ArtifactsBase: cfg.ArtifactsDir(),
		DoctorTimeout: cfg.PipelinesTimeoutDoctor(),
		PoseTimeout:   cfg.PipelinesTimeoutPose(),
		BeatsTimeout:  cfg.PipelinesTimeoutBeats(),
		Logger:        logger,
	}
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Probe the analysis pipelines and report their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.ensureLogger()

			pr, err := pipelines.NewRunner(pipelineConfig(cfg, logger))
			if err != nil {
				return fmt.Errorf("pipeline runner unavailable: %w", err)
			}
			caps, err := pr.RunDoctor(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, caps)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDoctorTable(caps))
			fmt.Fprintf(cmd.OutOrStdout(), "pose: %v  beats: %v  deps: %d/%d\n",
				caps.HasPose, caps.HasBeats, caps.Summary.Available, caps.Summary.Total)
			return nil
		},
	}
}

func renderDoctorTable(caps *pipelines.Capabilities) string {
	names := make([]string, 0, len(caps.Dependencies)+len(caps.Executables))
	all := make(map[string]pipelines.DepInfo, cap(names))
	for name, dep := range caps.Dependencies {
		names = append(names, name)
		all[name] = dep
	}
	for name, dep := range caps.Executables {
		if _, ok := all[name]; ok {
			continue
		}
		names = append(names, name)
		all[name] = dep
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		dep := all[name]
		detail := dep.Version
		if dep.Error != "" {
			detail = dep.Error
		}
		rows = append(rows, []string{name, strconv.FormatBool(dep.Available), detail})
	}
	return renderTable([]string{"Dependency", "Available", "Version"}, rows, nil)
}
