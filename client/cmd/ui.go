package cmd

import (
	"context"
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	nberrors "github.com/rpi-update-ota/ota-agent/client/errors"
	"github.com/rpi-update-ota/ota-agent/client/ui"
	"github.com/rpi-update-ota/ota-agent/util"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "runs the agent with an interactive terminal UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		SetupCloseHandler(ctx, cancel)

		// console logs would tear the screen apart
		if agentConfig.Log.File == util.LogConsole {
			log.SetOutput(io.Discard)
		}

		var program *tea.Program
		obs := ui.NewObserver(func(msg tea.Msg) {
			program.Send(msg)
		})

		a, err := newAgent(ctx, agentConfig, obs)
		if err != nil {
			return err
		}
		program = tea.NewProgram(ui.NewModel(a.coordinator), tea.WithContext(ctx), tea.WithAltScreen())

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- a.serve(ctx)
		}()

		_, runErr := program.Run()
		if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
			runErr = nil
		}

		cancel()
		return nberrors.Append(runErr, <-serveErr, a.shutdown())
	},
}
