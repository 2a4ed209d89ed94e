package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Daegonica/grokprime/internal/profile"
	"github.com/Daegonica/grokprime/plugin/conversation"
	"github.com/Daegonica/grokprime/plugin/persona"
	"github.com/Daegonica/grokprime/plugin/session"
)

var version = "0.9.0"

var rootCmd = &cobra.Command{
	Use:   "grokprime",
	Short: "Multi-persona streaming chat for the terminal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		prof, err := buildProfile()
		if err != nil {
			return err
		}
		initLogger(prof)

		start, err := cmd.Flags().GetString("persona")
		if err != nil {
			return err
		}
		return run(cmd.Context(), prof, start)
	},
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the personas available in the persona directory",
	RunE: func(cmd *cobra.Command, _ []string) error {
		prof, err := buildProfile()
		if err != nil {
			return err
		}
		initLogger(prof)

		reg, err := persona.Load(prof.PersonaDir, prof)
		if err != nil {
			return err
		}
		for _, name := range reg.Names() {
			p, _ := reg.Get(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", name, p.Description)
		}
		return nil
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize <persona>",
	Short: "Fold a persona's old history into a summary without starting a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := buildProfile()
		if err != nil {
			return err
		}
		initLogger(prof)

		personas, err := persona.Load(prof.PersonaDir, prof)
		if err != nil {
			return err
		}
		registry := session.NewRegistry(prof, personas, conversation.NewStore(prof.Data))
		s, err := registry.Open(args[0])
		if err != nil {
			return err
		}
		defer registry.CloseAll()

		compacted, err := s.SummarizeNow(cmd.Context())
		if err != nil {
			return err
		}
		if !compacted {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing old enough to summarize")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "history summarized")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("mode", "dev", `run mode: "dev" or "prod"`)
	rootCmd.PersistentFlags().String("data", "", "directory for history files and archives")
	rootCmd.PersistentFlags().String("persona-dir", "", "directory containing persona YAML files")
	rootCmd.PersistentFlags().Int("rpm", 0, "outbound request cap per minute per backend, 0 disables")
	rootCmd.Flags().String("persona", "", "persona to open at startup")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("grokprime")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(personasCmd, summarizeCmd)
}

// buildProfile merges flags, GROKPRIME_* environment variables, and
// defaults into the process configuration.
func buildProfile() (*profile.Profile, error) {
	prof := &profile.Profile{
		Mode:              viper.GetString("mode"),
		Data:              viper.GetString("data"),
		PersonaDir:        viper.GetString("persona-dir"),
		Version:           version,
		RequestsPerMinute: viper.GetInt("rpm"),
	}
	prof.FromEnv()
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	return prof, nil
}

func initLogger(prof *profile.Profile) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if prof.IsDev() {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if prof.IsDev() {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, prof *profile.Profile, startPersona string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	personas, err := persona.Load(prof.PersonaDir, prof)
	if err != nil {
		return err
	}

	store := conversation.NewStore(prof.Data)
	registry := session.NewRegistry(prof, personas, store)

	slog.Info("starting grokprime",
		"version", prof.Version,
		"mode", prof.Mode,
		"data", prof.Data,
		"personas", len(personas.Names()),
	)

	r := newREPL(registry, personas, os.Stdin, os.Stdout)
	return r.run(ctx, startPersona)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
