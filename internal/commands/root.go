package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"liveclass/internal/version"
)

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

// NewRootCommand builds the command tree. Tests build their own tree so
// flags never leak between runs.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "liveclass",
		Short:   "Signaling relay for live classroom sessions",
		Long:    `liveclass relays WebRTC negotiation, chat and session control between one broadcaster and the viewers of a classroom. Media never passes through it.`,
		Version: version.Version,

		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newServeCommand(), newRoomsCommand(), newVersionCommand())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error: ")+err.Error())
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "liveclass %s\n", version.Version)
		},
	}
}
