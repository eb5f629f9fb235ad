package main

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/client"
	"taskboard/tui"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the interactive board",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The board owns the terminal; engine logs would corrupt the screen.
		logger := log.New()
		logger.SetOutput(io.Discard)

		engine := board.NewEngine(board.NewStore(), client.New(cfg.ServerURL, cfg.Token), logger)
		defer engine.Wait()

		p := tea.NewProgram(tui.New(cmd.Context(), engine), tea.WithAltScreen(), tea.WithMouseCellMotion())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(boardCmd)
}
