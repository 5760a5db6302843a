package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bv2src/pkg/config"
	"bv2src/pkg/logging"
	"bv2src/pkg/source"
	"bv2src/pkg/store"
	"bv2src/pkg/transform"
)

// app holds what every subcommand needs once flags and config are read
type app struct {
	configPath string
	v          *viper.Viper
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "bv2src",
		Short: "Build labeled MEG source models from BrainVISA segmentations",
		Long: `bv2src turns BrainVISA cortical meshes and parcel textures, and a
FreeSurfer subcortical segmentation, into surface and volume source
spaces with anatomical labels, in the MRI frame of the subject.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "init-config" {
				return nil
			}
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "bv2src.yaml", "configuration file")
	flags.String("root", "", "database root (holds db_mne, db_brainvisa, db_freesurfer)")
	flags.String("project", "", "project folder inside each database")
	flags.Bool("verbose", false, "debug logging")
	for key, name := range map[string]string{
		"database.root":    "root",
		"database.project": "project",
		"output.verbose":   "verbose",
	} {
		cobra.CheckErr(a.v.BindPFlag(key, flags.Lookup(name)))
	}

	a.v.SetEnvPrefix("BV2SRC")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.runCmd(),
		a.transCmd(),
		a.inspectCmd(),
		initConfigCmd(),
	)
	return root
}

// load reads the YAML file and overlays environment variables and flags
func (a *app) load() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return printError("Cannot load configuration", err.Error(),
			[]string{"run `bv2src init-config " + a.configPath + "` to write a default one"})
	}

	if a.v.IsSet("database.root") {
		cfg.Database.Root = a.v.GetString("database.root")
	}
	if a.v.IsSet("database.project") {
		cfg.Database.Project = a.v.GetString("database.project")
	}
	if a.v.IsSet("output.persist") {
		cfg.Output.Persist = a.v.GetBool("output.persist")
	}
	if a.v.IsSet("output.verbose") {
		cfg.Output.Verbose = a.v.GetBool("output.verbose")
	}
	if a.v.IsSet("volume.spacing") {
		cfg.Volume.Spacing = a.v.GetFloat64("volume.spacing")
	}

	if cfg.Output.Verbose && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}
	logging.SetDefault(logging.NewFromConfig(cfg.Logging))

	a.cfg = cfg
	return nil
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <subject>...",
		Short: "Build the source model of each subject",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, subjects []string) error {
			ctx := cmd.Context()
			ctx = logging.WithLogger(ctx, logging.Default())

			var deps source.Deps
			if a.cfg.Output.Persist && a.cfg.Output.StoreFile != "" {
				path := a.cfg.Layout().Expand(a.cfg.Output.StoreFile, "", "", "")
				st, err := store.Open(path)
				if err != nil {
					return err
				}
				defer st.Close()
				deps.Store = st
			}

			p, err := source.New(a.cfg, deps)
			if err != nil {
				return err
			}

			start := time.Now()
			outcomes, err := p.RunBatch(ctx, subjects)
			if rerr := renderOutcomes(cmd.OutOrStdout(), outcomes); rerr != nil {
				return rerr
			}
			if rerr := renderLabels(cmd.OutOrStdout(), outcomes); rerr != nil {
				return rerr
			}

			failed := 0
			for _, o := range outcomes {
				if !o.OK() {
					failed++
					printWarning("%s: %v\n", o.Subject, o.Err)
				}
			}
			if err != nil {
				return fmt.Errorf("%d of %d subjects failed", failed, len(subjects))
			}
			printSuccess("%d subjects done in %s\n", len(outcomes), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().Bool("persist", false, "write label files and the source store")
	cmd.Flags().Float64("spacing", 0, "volume source spacing in mm")
	cobra.CheckErr(a.v.BindPFlag("output.persist", cmd.Flags().Lookup("persist")))
	cobra.CheckErr(a.v.BindPFlag("volume.spacing", cmd.Flags().Lookup("spacing")))
	return cmd
}

func (a *app) transCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "trans <subject>",
		Short: "Compose the transform chain of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := args[0]
			layout := a.cfg.Layout()
			expand := func(tmpl string) string { return layout.Expand(tmpl, subject, "", "") }

			if out == "" {
				out = expand(a.cfg.Inputs.TransOut)
			}
			resolver := transform.Resolver{Root: expand(a.cfg.Inputs.TransformRoot)}
			m, err := resolver.ResolveFile(subject, expand(a.cfg.Inputs.Reference), out)
			if err != nil {
				return err
			}

			if err := renderMatrix(cmd.OutOrStdout(), m); err != nil {
				return err
			}
			if out != "" {
				printSuccess("transform written to %s\n", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (.yaml for a native record, text grid otherwise)")
	return cmd
}

func (a *app) inspectCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "inspect <store>...",
		Short: "List the source spaces stored for a subject",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, paths []string) error {
			in := source.FromPath(paths[0])
			if len(paths) > 1 {
				in = source.FromPaths(paths...)
			}
			open := func(path string) (source.SpaceReader, error) {
				st, err := store.Open(path)
				if err != nil {
					return nil, err
				}
				return st, nil
			}

			spaces, err := in.Resolve(cmd.Context(), subject, open)
			if err != nil {
				return err
			}
			return renderSpaces(cmd.OutOrStdout(), spaces)
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "subject id")
	cobra.CheckErr(cmd.MarkFlagRequired("subject"))
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			printSuccess("configuration written to %s\n", args[0])
			return nil
		},
	}
}
