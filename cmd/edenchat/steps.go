package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/adapters/prompts"
	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/infrastructure/config"
)

func newLinkStepCmd(a *app) *cobra.Command {
	var (
		sessionID string
		projectID string
		level     string
	)
	cmd := &cobra.Command{
		Use:   "link-step",
		Short: "Link a chat session to a project step",
		Long: `Records the project step a chat session belongs to, so the server routes the
session to that step's level and completes it when its deliverable arrives.
Linking an already linked session replaces the step and resets it to pending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Store.Driver == config.StoreMemory {
				return fmt.Errorf("link-step needs a persistent store (--store sqlite or postgres)")
			}
			lib, err := prompts.NewLibrary(a.cfg.PromptsDir, a.log)
			if err != nil {
				return err
			}
			var phase int
			for _, l := range lib.Levels() {
				if string(l.ID) == level {
					phase = l.Phase
				}
			}
			if phase == 0 {
				return fmt.Errorf("unknown level %q", level)
			}

			st, err := openStore(cmd.Context(), a.cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			step := entities.Step{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				ProjectID: projectID,
				Phase:     phase,
				Level:     entities.LevelContext(level),
				Status:    entities.StepPending,
			}
			if err := st.SaveStep(cmd.Context(), step); err != nil {
				return err
			}
			a.log.Info("step linked",
				zap.String("session_id", sessionID),
				zap.String("project_id", projectID),
				zap.String("level", level),
				zap.Int("phase", phase))
			fmt.Fprintln(cmd.OutOrStdout(), step.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "chat session id")
	cmd.Flags().StringVar(&projectID, "project", "", "project id shared by the project's steps")
	cmd.Flags().StringVar(&level, "level", "", "level id from the catalogue")
	for _, name := range []string{"session", "project", "level"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
