package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/repnote/repnote/ai"
	"github.com/repnote/repnote/ai/agent"
	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/ai/metrics"
	"github.com/repnote/repnote/ai/persona"
	"github.com/repnote/repnote/internal/profile"
	"github.com/repnote/repnote/internal/version"
	"github.com/repnote/repnote/server"
	"github.com/repnote/repnote/store"
	"github.com/repnote/repnote/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "repnote",
	Short: `A conversational workout journal. Log training by talking about it and get coaching advice grounded in your history.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as
		// a systemd service, which supplies its own environment).
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}
		defer func() { _ = storeInstance.Close() }() //nolint:errcheck // cleanup

		aiConfig := ai.NewConfigFromProfile(instanceProfile)
		if err := aiConfig.Validate(); err != nil {
			slog.Error("invalid AI configuration", "error", err)
			return
		}
		llmService, err := llm.NewService(&aiConfig.LLM)
		if err != nil {
			slog.Error("failed to create LLM service", "error", err)
			return
		}

		personas := persona.NewRegistry()
		transcript := server.NewTranscript()
		exporter := metrics.NewExporter(metrics.DefaultConfig())

		pipeline, err := agent.NewPipeline(agent.PipelineConfig{
			Classifier:       agent.NewClassifier(llmService),
			Extractor:        agent.NewExtractor(llmService),
			Advisor:          agent.NewAdvisor(llmService),
			Speech:           agent.NewSpeech(llmService),
			Logs:             storeInstance,
			Personas:         personas,
			Emitter:          transcript,
			Exporter:         exporter,
			DefaultPersonaID: instanceProfile.DefaultPersona,
			SpeechEnabled:    instanceProfile.SpeechEnabled,
		})
		if err != nil {
			slog.Error("failed to create pipeline", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance, pipeline, personas, transcript, exporter)
		if err != nil {
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
				cancel()
			}
		}

		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("repnote")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("repnote %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	if !profile.IsAIEnabled() {
		fmt.Fprint(os.Stderr, "No LLM API key configured; set REPNOTE_AI_LLM_API_KEY to enable the assistant\n")
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Mode: %s\n", profile.Mode)

	if len(profile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", profile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", profile.Addr, profile.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
