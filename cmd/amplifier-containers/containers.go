package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
	"github.com/microsoft/amplifier-bundle-containers/internal/manager"
)

// Human-facing subcommands for the common flows. Anything they can do, the
// invoke boundary can do too; these exist so a person in a terminal does not
// have to hand-write JSON.

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check that a container engine is ready",
	RunE: func(cmd *cobra.Command, args []string) error {
		res := appFrom(cmd).Manager.Preflight(cmd.Context())
		emit(cmd.OutOrStdout(), res)
		if !res.Ready {
			return fmt.Errorf("engine not ready")
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and provision a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &domain.CreateRequest{}
		req.Name, _ = cmd.Flags().GetString("name")
		req.Image, _ = cmd.Flags().GetString("image")
		req.Purpose, _ = cmd.Flags().GetString("purpose")
		req.RepoURL, _ = cmd.Flags().GetString("repo")
		req.Persistent, _ = cmd.Flags().GetBool("persistent")
		req.Confirm, _ = cmd.Flags().GetBool("confirm")
		if skip, _ := cmd.Flags().GetBool("no-dotfiles"); skip {
			req.DotfilesSkip = true
		}

		res, err := appFrom(cmd).Manager.Create(cmd.Context(), req)
		if err != nil {
			return err
		}
		emit(cmd.OutOrStdout(), res)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := appFrom(cmd).Manager.List(cmd.Context())
		if err != nil {
			return err
		}
		emit(cmd.OutOrStdout(), infos)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <container>",
	Short: "Show one container's state and record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := appFrom(cmd).Manager.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		emit(cmd.OutOrStdout(), res)
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <container> <command>",
	Short: "Run a command in a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		asRoot, _ := cmd.Flags().GetBool("root")
		timeout, _ := cmd.Flags().GetInt("timeout")
		res, err := appFrom(cmd).Manager.Exec(cmd.Context(), &manager.ExecRequest{
			Name:           args[0],
			Command:        args[1],
			AsRoot:         asRoot,
			TimeoutSeconds: timeout,
		})
		if err != nil {
			return err
		}
		emit(cmd.OutOrStdout(), res)
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell <container>",
	Short: "Print the command for an interactive shell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hint, err := appFrom(cmd).Manager.InteractiveHint(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hint)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <container>",
	Short: "Destroy a container and its sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return appFrom(cmd).Manager.Destroy(cmd.Context(), args[0])
	},
}

var destroyAllCmd = &cobra.Command{
	Use:   "destroy-all",
	Short: "Destroy every managed container",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		res, err := appFrom(cmd).Manager.DestroyAll(cmd.Context(), confirm)
		if err != nil {
			return err
		}
		emit(cmd.OutOrStdout(), res)
		return nil
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait <container>",
	Short: "Wait until a container is healthy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetInt("timeout")
		return appFrom(cmd).Manager.WaitHealthy(cmd.Context(), args[0], time.Duration(timeout)*time.Second)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "cache-clear [purpose]",
	Short: "Remove cached purpose images",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		purposeName := ""
		if len(args) == 1 {
			purposeName = args[0]
		}
		res, err := appFrom(cmd).Manager.CacheClear(cmd.Context(), purposeName)
		if err != nil {
			return err
		}
		emit(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	createCmd.Flags().String("name", "", "container name (generated when empty)")
	createCmd.Flags().String("image", "", "image override")
	createCmd.Flags().String("purpose", "", "purpose profile (python, node, rust, go, general, amplifier, clean)")
	createCmd.Flags().String("repo", "", "repository to inspect, clone, and set up")
	createCmd.Flags().Bool("persistent", false, "keep the container across sessions")
	createCmd.Flags().Bool("confirm", false, "accept configurations the safety policy gates")
	createCmd.Flags().Bool("no-dotfiles", false, "skip dotfiles setup")

	execCmd.Flags().Bool("root", false, "run with the administrative identity")
	execCmd.Flags().Int("timeout", 0, "command timeout in seconds")

	destroyAllCmd.Flags().Bool("confirm", false, "confirm destroying everything")
	waitCmd.Flags().Int("timeout", 60, "wait timeout in seconds")

	rootCmd.AddCommand(preflightCmd, createCmd, listCmd, statusCmd, execCmd,
		shellCmd, destroyCmd, destroyAllCmd, waitCmd, cacheClearCmd)
}
