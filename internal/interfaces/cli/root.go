// Package cli implements the §6 operator command surface as a cobra CLI:
// `driver run` starts the background process (scheduler + control socket +
// event-stream bridge); `input`/`stop`/`resume`/`answer` are short-lived
// clients that talk to a running `driver run` over the control socket.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dialogkernel/driver/internal/infrastructure/config"
	"github.com/dialogkernel/driver/internal/interfaces/cli/control"
)

// Exit codes per the §6 operator CLI contract.
const (
	ExitClean        = 0
	ExitConfigError  = 1
	ExitRuntimeFatal = 2
)

// NewRootCommand builds the `driver` cobra command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "driver",
		Short:         "Dialog kernel driver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(),
		newInputCommand(),
		newStopCommand(),
		newResumeCommand(),
		newAnswerCommand(),
		newVersionCommand(),
	)
	return root
}

// socketPath resolves the running driver's control socket from config, so
// the operator subcommands never need to be told the workspace twice.
func socketPath() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return filepath.Join(cfg.Workspace, control.SocketName), nil
}

func newClient() (*control.Client, error) {
	path, err := socketPath()
	if err != nil {
		return nil, err
	}
	return control.NewClient(path), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the driver version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "dialogkernel-driver v0.1.0")
			return nil
		},
	}
}
