package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newInputCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "input [dialogId] <content>",
		Short: "Deliver a fresh human message to a dialog",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialogID, content := splitDialogArg(args)
			client, err := newClient()
			if err != nil {
				return exitConfigError(err)
			}
			got, err := client.Input(context.Background(), dialogID, content)
			if err != nil {
				return exitRuntimeFatal(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), got)
			return nil
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <dialogId> <reason>",
		Short: "Request (or force) a dialog's active run to stop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return exitConfigError(err)
			}
			if err := client.Stop(context.Background(), args[0], args[1]); err != nil {
				return exitRuntimeFatal(err)
			}
			return nil
		},
	}
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <dialogId>",
		Short: "Re-queue a drive for a dialog with no fresh prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return exitConfigError(err)
			}
			if err := client.Resume(context.Background(), args[0]); err != nil {
				return exitRuntimeFatal(err)
			}
			return nil
		},
	}
}

func newAnswerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "answer <q4hId> <text>",
		Short: "Answer a pending human question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return exitConfigError(err)
			}
			answer := strings.Join(args[1:], " ")
			if err := client.Answer(context.Background(), args[0], answer); err != nil {
				return exitRuntimeFatal(err)
			}
			return nil
		},
	}
}

// splitDialogArg handles `input <content>` (new dialog) vs
// `input <dialogId> <content>` (existing dialog).
func splitDialogArg(args []string) (dialogID, content string) {
	if len(args) == 1 {
		return "", args[0]
	}
	return args[0], args[1]
}

func exitConfigError(err error) error {
	fmt.Fprintf(os.Stderr, "config error: %v\n", err)
	os.Exit(ExitConfigError)
	return nil
}

func exitRuntimeFatal(err error) error {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitRuntimeFatal)
	return nil
}
