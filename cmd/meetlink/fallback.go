package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/danmuck/meetlink/internal/fallback"
	"github.com/danmuck/meetlink/internal/meeting"
)

type fallbackView struct {
	Kind          meeting.Kind           `json:"kind"`
	Stage         meeting.Stage          `json:"stage"`
	Phase         meeting.Phase          `json:"phase"`
	Questions     []meeting.Question     `json:"questions"`
	Cues          []meeting.Cue          `json:"cues"`
	AISuggestions []meeting.AISuggestion `json:"aiSuggestions"`
	Features      map[string]bool        `json:"features,omitempty"`
}

func newFallbackCmd(opts *options) *cobra.Command {
	var kindRaw, stageRaw, phaseRaw, platformRaw string
	var limit int
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Print the offline panel content for a meeting kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			provider, err := loadProvider(cfg)
			if err != nil {
				return err
			}
			kind, err := meeting.ParseKind(kindRaw)
			if err != nil {
				return err
			}
			stage, err := meeting.ParseStage(stageRaw)
			if err != nil {
				return err
			}
			view := fallbackView{
				Kind:          kind,
				Stage:         stage,
				Phase:         meeting.Phase(phaseRaw),
				Questions:     provider.QuestionsFor(kind, stage),
				Cues:          provider.CuesFor(meeting.Phase(phaseRaw)),
				AISuggestions: provider.Suggestions(limit),
			}
			if platformRaw != "" {
				platform, err := meeting.ParsePlatform(platformRaw)
				if err != nil {
					return err
				}
				view.Features = provider.PlatformFeatures(platform)
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVar(&kindRaw, "kind", string(meeting.KindStandup), "meeting kind")
	cmd.Flags().StringVar(&stageRaw, "stage", string(fallback.DefaultStage), "conversation stage: start|middle|end")
	cmd.Flags().StringVar(&phaseRaw, "phase", string(fallback.DefaultPhase), "meeting phase for cues")
	cmd.Flags().StringVar(&platformRaw, "platform", "", "include the feature table for zoom|teams|meet")
	cmd.Flags().IntVar(&limit, "suggestions", fallback.DefaultSuggestionLimit, "max AI suggestions, -1 for all")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
