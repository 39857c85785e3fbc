package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pempem98/inventory-scanner/internal/config"
	"github.com/pempem98/inventory-scanner/internal/deploy"
	"github.com/pempem98/inventory-scanner/internal/log"
	"github.com/pempem98/inventory-scanner/internal/orchestrator"
	"github.com/pempem98/inventory-scanner/internal/runner"
	"github.com/pempem98/inventory-scanner/internal/supervisor"
)

var (
	configPath string // actual config file used (if loaded)
	cfg        config.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is opsd.yaml in the current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// load config, setup logging
	rootCmd.PersistentPreRunE = initOpsd

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("opsd failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "opsd",
	Short:        "Operational automation for the inventory-scanner deployment",
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "wait for dependencies, start supervised processes and the scheduler, then serve in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		return o.Up(ctx)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <process>",
	Short: "start a supervised process unless it is already running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		proc, ok := cfg.Supervisor.Processes[name]
		if !ok {
			return fmt.Errorf("process %q is not configured", name)
		}
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		status, err := o.Supervisor().Start(cmd.Context(), name, supervisor.Command{
			Path: proc.Path,
			Args: proc.Args,
			Env:  proc.Env,
		})
		if err != nil {
			return err
		}
		fmt.Println(name + ": " + string(status))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <process>",
	Short: "stop a supervised process; stopping a process that is not running is not an error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		status, err := o.Supervisor().Stop(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(args[0] + ": " + string(status))
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <process>",
	Short: "stop a supervised process, wait for it to settle, then start it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		proc, ok := cfg.Supervisor.Processes[name]
		if !ok {
			return fmt.Errorf("process %q is not configured", name)
		}
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		status, err := o.Supervisor().Restart(cmd.Context(), name, supervisor.Command{
			Path: proc.Path,
			Args: proc.Args,
			Env:  proc.Env,
		})
		if err != nil {
			return err
		}
		fmt.Println(name + ": " + string(status))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <task> [task...]",
	Short: "run configured tasks in order, stopping at the first failure",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		tasks := make([]runner.Task, 0, len(args))
		for _, name := range args {
			task, ok := o.Task(name)
			if !ok {
				return fmt.Errorf("task %q is not configured", name)
			}
			tasks = append(tasks, task)
		}
		runs, err := o.Runner().RunChain(cmd.Context(), tasks)
		for _, run := range runs {
			fmt.Printf("%s: run %s exit %d (%s)\n", run.Task, run.ID, run.ExitCode, run.Dir)
		}
		return err
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "delete run logs and backups older than the retention threshold",
	RunE: func(cmd *cobra.Command, _ []string) error {
		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		return o.PruneAll(cmd.Context())
	},
}

var deployCmd = &cobra.Command{
	Use:       "deploy {clean|build|run|from-build}",
	Short:     "container lifecycle for the application image",
	Args:      cobra.ExactArgs(1),
	ValidArgs: deploy.Verbs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deploy.New(deploy.Target{
			Image:      cfg.Deploy.Image,
			Container:  cfg.Deploy.Container,
			ContextDir: cfg.Deploy.ContextDir,
			Env: []string{
				"BROKER_URL=" + cfg.Broker.URL,
				"DATABASE_DSN=" + cfg.Database.DSN,
			},
		})
		if err != nil {
			return err
		}
		return d.Do(cmd.Context(), args[0])
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "write a default opsd.yaml to the current directory",
	RunE: func(_ *cobra.Command, _ []string) error {
		return config.WriteDefault("opsd.yaml")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of opsd",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("opsd: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("opsd: %s\n", info.Main.Version)
		fmt.Printf("go:   %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			}
		}
	},
}

func initOpsd(_ *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("OPSDCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if exists("opsd.yaml") {
		configPath = "opsd.yaml"
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	// --verbose has precedence over the config file
	if flagVerbose {
		cfg.Verbose = true
	}

	slog.SetDefault(log.New(cfg.Verbose))
	slog.Debug("opsd run", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
