package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	tlog "github.com/LeeHome2/tedoori-pipeline/pkg/log"
	"github.com/LeeHome2/tedoori-pipeline/pkg/orchestrate"
)

// commandContext carries the persistent flags shared by every subcommand
type commandContext struct {
	configFile string
	envFiles   []string
	common     *binder
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "tedoori",
		Short:         "Crawl, optimize and publish project images",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cc.configFile, "config", "c", "", "YAML config file (optional)")
	pf.StringSliceVar(&cc.envFiles, "env-file", nil, "Dotenv files, first wins (default .env.local,.env)")
	cc.common = newBinder(pf)
	cc.common.String("out-dir", "Output root directory", func(c *config.Config) *string { return &c.Common.OutDir })
	cc.common.String("loglevel", "Log level (trace, debug, info, warn, error)", func(c *config.Config) *string { return &c.Common.LogLevel })
	cc.common.String("user-agent", "User-Agent for every request", func(c *config.Config) *string { return &c.Common.UserAgent })
	cc.common.String("date", "Date stamp for downloaded file names (YYYYMMDD)", func(c *config.Config) *string { return &c.Common.Date })

	rootCmd.AddCommand(
		newCrawlCommand(cc),
		newDownloadCommand(cc),
		newOptimizeCommand(cc),
		newUploadCommand(cc),
		newUploadSFTPCommand(cc),
		newUpsertCommand(cc),
		newValidateCommand(cc),
		newRunCommand(cc),
		newVersionCommand(),
	)
	return rootCmd
}

// loadConfig layers defaults, the config file, dotenv files, the environment and finally the
// changed flags, then validates. Warnings go to the log.
func (cc *commandContext) loadConfig(logOut io.Writer, local *binder) (*config.Config, *logrus.Logger, error) {
	opts := config.LoadOptions{ConfigFile: cc.configFile}
	if len(cc.envFiles) > 0 {
		opts.EnvFiles = cc.envFiles
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, nil, err
	}
	cc.common.Apply(cfg)
	if local != nil {
		local.Apply(cfg)
	}

	warnings, err := cfg.Validate()
	logger := tlog.New(logOut, cfg.Common.LogLevel)
	for _, w := range warnings {
		logger.Warn(w)
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// runStages loads the config and runs the named stages as one locked pipeline.
func (cc *commandContext) runStages(cmd *cobra.Command, local *binder, names ...string) error {
	cfg, logger, err := cc.loadConfig(cmd.ErrOrStderr(), local)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"out_dir": cfg.Common.OutDir, "stages": strings.Join(names, ",")}).Debug("Effective configuration loaded")

	env, err := orchestrate.NewEnv(*cfg, logger)
	if err != nil {
		return err
	}
	env.Out = cmd.OutOrStdout()

	p, err := orchestrate.NewPipeline(env, names...)
	if err != nil {
		return err
	}
	_, err = p.Run(cmd.Context())
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tedoori %s\n", version)
		},
	}
}
