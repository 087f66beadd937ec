package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/internal/cli"
	"github.com/pipewatch/pipewatch/internal/orchestration"
	"github.com/pipewatch/pipewatch/pkg/configmask"
	"github.com/pipewatch/pipewatch/pkg/configregistry"
)

const cliVersion = "0.0.0-dev"

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	command := newAdminCommand()
	parsedArgs := []string{}
	if len(args) > 1 {
		parsedArgs = args[1:]
	}
	command.SetArgs(parsedArgs)
	return command.Execute()
}

func newAdminCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "pipewatch-admin",
		Short:        "Pipewatch admin CLI",
		Version:      cliVersion,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	command.PersistentFlags().String("config", "", "path to pipewatch-admin config file")
	command.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return cli.InitViperFromCommand(cmd, cli.ViperConfig{
			EnvPrefix:    "PIPEWATCH",
			ConfigEnvVar: "PIPEWATCH_ADMIN_CONFIG",
			ConfigName:   "pipewatch-admin",
		})
	}

	command.AddCommand(newRegistryCommand())
	command.AddCommand(newConnectorCommand())
	command.InitDefaultCompletionCmd()

	return command
}

func newRegistryCommand() *cobra.Command {
	registryCommand := &cobra.Command{
		Use:   "registry",
		Short: "inspect and manage connector config versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	addRegistryFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("registry-type", "", "registry backend (postgres, http, local)")
		cmd.Flags().String("registry-dsn", "", "postgres DSN for the registry backend")
		cmd.Flags().String("registry-url", "", "base URL for the http registry backend")
		cmd.Flags().String("registry-token", "", "bearer token for the http registry backend")
		cmd.Flags().Bool("json", false, "output JSON for scripting")
	}

	versionsCmd := &cobra.Command{
		Use:   "versions <name>",
		Short: "list versions for a registry connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			defer reg.Close()

			versions, err := reg.ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			active, activeErr := reg.ActiveVersion(cmd.Context(), args[0])

			if cli.ResolveBoolFlag(cmd, "json") {
				return printJSON(versions)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"VERSION", "CHECKSUM", "CREATED", "ACTIVE"})
			for _, v := range versions {
				mark := ""
				if activeErr == nil && v.Version == active.Version {
					mark = "*"
				}
				t.AppendRow(table.Row{v.Version, shortChecksum(v.Checksum), v.CreatedAt.Format(time.RFC3339), mark})
			}
			t.Render()
			return nil
		},
	}
	addRegistryFlags(versionsCmd)

	showCmd := &cobra.Command{
		Use:   "show <name> <version>",
		Short: "show one version's configuration (secrets masked)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version must be an integer: %w", err)
			}
			reg, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			defer reg.Close()

			v, err := reg.GetVersion(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"name":     v.Name,
				"version":  v.Version,
				"checksum": v.Checksum,
				"config":   configmask.Mask(v.Config),
			})
		},
	}
	addRegistryFlags(showCmd)

	activateCmd := &cobra.Command{
		Use:   "activate <name> <version>",
		Short: "make an existing version the active one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version must be an integer: %w", err)
			}
			reg, err := openRegistry(cmd)
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.ActivateVersion(cmd.Context(), args[0], version); err != nil {
				return err
			}
			fmt.Printf("activated %s version %d\n", args[0], version)
			return nil
		},
	}
	addRegistryFlags(activateCmd)

	registryCommand.AddCommand(versionsCmd, showCmd, activateCmd)
	return registryCommand
}

func newConnectorCommand() *cobra.Command {
	connectorCommand := &cobra.Command{
		Use:   "connector",
		Short: "issue commands against the orchestration API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	addOrchestrationFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("orchestration-url", "", "orchestration API base URL")
		cmd.Flags().String("orchestration-token", "", "orchestration API bearer token")
		cmd.Flags().Duration("timeout", 15*time.Second, "request timeout")
	}

	statusCmd := &cobra.Command{
		Use:   "status <name>",
		Short: "show live task states for a connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openOrchestration(cmd)
			if err != nil {
				return err
			}
			s, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"TASK", "STATE", "WORKER"})
			for _, task := range s.Tasks {
				t.AppendRow(table.Row{task.ID, task.State, task.WorkerID})
			}
			t.Render()
			return nil
		},
	}
	addOrchestrationFlags(statusCmd)

	pauseCmd := &cobra.Command{
		Use:   "pause <name>",
		Short: "pause a connector's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openOrchestration(cmd)
			if err != nil {
				return err
			}
			return client.Pause(cmd.Context(), args[0])
		},
	}
	addOrchestrationFlags(pauseCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume <name>",
		Short: "resume a paused connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openOrchestration(cmd)
			if err != nil {
				return err
			}
			return client.Resume(cmd.Context(), args[0])
		},
	}
	addOrchestrationFlags(resumeCmd)

	restartCmd := &cobra.Command{
		Use:   "restart-task <name> <task>",
		Short: "restart one task of a connector",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("task must be an integer: %w", err)
			}
			client, err := openOrchestration(cmd)
			if err != nil {
				return err
			}
			return client.RestartTask(cmd.Context(), args[0], task)
		},
	}
	addOrchestrationFlags(restartCmd)

	connectorCommand.AddCommand(statusCmd, pauseCmd, resumeCmd, restartCmd)
	return connectorCommand
}

func openRegistry(cmd *cobra.Command) (configregistry.Registry, error) {
	reg, err := configregistry.NewRegistry(cmd.Context(), configregistry.Config{
		Type:  cli.ResolveStringFlag(cmd, "registry-type"),
		DSN:   cli.ResolveStringFlag(cmd, "registry-dsn"),
		URL:   cli.ResolveStringFlag(cmd, "registry-url"),
		Token: cli.ResolveStringFlag(cmd, "registry-token"),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	return reg, nil
}

func openOrchestration(cmd *cobra.Command) (*orchestration.Client, error) {
	return orchestration.NewClient(orchestration.Config{
		BaseURL: cli.ResolveStringFlag(cmd, "orchestration-url"),
		Token:   cli.ResolveStringFlag(cmd, "orchestration-token"),
		Timeout: cli.ResolveDurationFlag(cmd, "timeout"),
	})
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
