package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/DoyleJ11/truthdare-live/internal/api"
	"github.com/DoyleJ11/truthdare-live/internal/config"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type actionFlags struct {
	roomID     string
	adminToken string
}

func (a *actionFlags) register(cmd *cobra.Command, admin bool) {
	cmd.Flags().StringVar(&a.roomID, "room-id", "", "room id returned by create or join (env: TRUTHDARE_ROOM_ID)")
	_ = cmd.MarkFlagRequired("room-id")
	usage := "admin token returned by create (env: TRUTHDARE_ADMIN_TOKEN)"
	cmd.Flags().StringVar(&a.adminToken, "admin-token", "", usage)
	if admin {
		_ = cmd.MarkFlagRequired("admin-token")
	}
}

func restClient(cfg *config.Config) (*api.Client, error) {
	base, err := config.ResolveAPIURL(cfg.APIURL, cfg.Origin)
	if err != nil {
		return nil, err
	}
	return api.New(base, &http.Client{Timeout: durationOr(cfg.FetchTimeout, defaultHTTPTimeout)}), nil
}

// newActionCmds are one-shot REST calls for driving a game from a terminal.
func newActionCmds(cfg *config.Config, v *viper.Viper) []*cobra.Command {
	var (
		start, question, next, inject, mode actionFlags
		qType, injType, text, target        string
	)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the game (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := restClient(cfg)
			if err != nil {
				return err
			}
			if err := c.StartGame(cmd.Context(), start.roomID, start.adminToken); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "game started")
			return nil
		},
	}
	start.register(startCmd, true)

	questionCmd := &cobra.Command{
		Use:   "question",
		Short: "Draw the next question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := restClient(cfg)
			if err != nil {
				return err
			}
			q, err := c.NextQuestion(cmd.Context(), question.roomID, room.QuestionType(strings.ToUpper(qType)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", q.Type, q.Text)
			return nil
		},
	}
	question.register(questionCmd, false)
	questionCmd.Flags().StringVar(&qType, "type", "", "TRUTH or DARE, empty lets the server choose")

	nextCmd := &cobra.Command{
		Use:   "next-turn",
		Short: "Advance to the next player; with --admin-token the turn is forced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := restClient(cfg)
			if err != nil {
				return err
			}
			if next.adminToken != "" {
				err = c.ForceNextTurn(cmd.Context(), next.roomID, next.adminToken)
			} else {
				err = c.NextTurn(cmd.Context(), next.roomID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "turn advanced")
			return nil
		},
	}
	next.register(nextCmd, false)

	injectCmd := &cobra.Command{
		Use:   "inject",
		Short: "Push a custom question to a player (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := restClient(cfg)
			if err != nil {
				return err
			}
			q, err := c.InjectQuestion(cmd.Context(), inject.roomID, inject.adminToken, api.InjectQuestion{
				Text:           strings.TrimSpace(text),
				Type:           room.QuestionType(strings.ToUpper(injType)),
				TargetPlayerID: target,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "injected %s for player %s\n", q.ID, q.PlayerID)
			return nil
		},
	}
	inject.register(injectCmd, true)
	injectCmd.Flags().StringVar(&text, "text", "", "question text")
	injectCmd.Flags().StringVar(&injType, "type", "TRUTH", "TRUTH or DARE")
	injectCmd.Flags().StringVar(&target, "target", "", "player id, defaults to the current player")
	_ = injectCmd.MarkFlagRequired("text")

	modeCmd := &cobra.Command{
		Use:       "mode TRUTH_ONLY|DARE_ONLY|TRUTH_AND_DARE",
		Short:     "Change the game mode (admin)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(room.ModeTruthOnly), string(room.ModeDareOnly), string(room.ModeTruthAndDare)},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := restClient(cfg)
			if err != nil {
				return err
			}
			m := room.GameMode(strings.ToUpper(args[0]))
			if err := c.ChangeGameMode(cmd.Context(), mode.roomID, mode.adminToken, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "game mode is now %s\n", m)
			return nil
		},
	}
	mode.register(modeCmd, true)

	cmds := []*cobra.Command{startCmd, questionCmd, nextCmd, injectCmd, modeCmd}
	for _, c := range cmds {
		bindEnv(v, c.Flags())
	}
	return cmds
}
