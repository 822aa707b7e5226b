package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/config"
	"github.com/harrison/ralph-ultra/internal/cost"
	"github.com/harrison/ralph-ultra/internal/engine"
	"github.com/harrison/ralph-ultra/internal/learning"
	"github.com/harrison/ralph-ultra/internal/logger"
	"github.com/harrison/ralph-ultra/internal/models"
	"github.com/harrison/ralph-ultra/internal/quota"
	"github.com/harrison/ralph-ultra/internal/tmux"
)

// NewRunCommand creates the run subcommand.
func NewRunCommand(flags *rootFlags) *cobra.Command {
	var (
		storyID string
		mode    string
		yes     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the next (or a specific) story",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecution(cmd.Context(), flags, storyID, mode, yes)
		},
	}

	cmd.Flags().StringVarP(&storyID, "story", "s", "", "run a specific story id")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "execution mode: balanced, super-saver, fast-delivery")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip complexity and API-health grace periods")

	return cmd
}

func runExecution(parent context.Context, flags *rootFlags, storyID, mode string, yes bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	if mode != "" {
		settings.ExecutionMode = models.ExecutionMode(mode)
	}

	level := "info"
	if flags.debug {
		level = "debug"
	}
	console := logger.NewConsoleLogger(level)
	fileLog, err := logger.NewFileLogger(flags.projectDir, level)
	if err != nil {
		return err
	}
	defer fileLog.Close()
	log := logger.Multi{console, fileLog}

	eventBus := bus.New()
	quotaMgr := quota.NewManager(eventBus)

	costPath, err := config.CostHistoryPath()
	if err != nil {
		return err
	}
	costs := cost.NewTracker(costPath)

	dbPath, err := config.LearningDBPath()
	if err != nil {
		return err
	}
	recorder, err := learning.NewRecorder(dbPath, eventBus)
	if err != nil {
		return err
	}
	defer recorder.Close()

	if first, err := config.IsFirstLaunch(); err == nil && first {
		console.LogInfo("first launch; config root initialized")
		config.MarkLaunched()
	}
	settings.TouchRecent(flags.projectDir, flags.projectDir)
	settings.Save()

	eng := engine.New(engine.Config{
		ProjectDir: flags.projectDir,
		Bus:        eventBus,
		Quota:      quotaMgr,
		Cost:       costs,
		Learning:   recorder,
		Log:        log,
		Settings:   settings,
		Tmux:       tmux.NewRunner(),
		Status:     engine.NewAnthropicStatusChecker(),
		Mode:       settings.ExecutionMode,
		SkipGates:  yes,
	})
	defer eng.Close()

	done := make(chan struct{})
	subscribeConsole(eventBus, console, done)

	var runErr error
	if storyID != "" {
		runErr = eng.RunStory(ctx, storyID)
	} else {
		runErr = eng.Run(ctx)
	}
	if runErr != nil {
		return runErr
	}

	select {
	case <-done:
	case <-ctx.Done():
		console.LogWarn("interrupt received; pausing execution")
		eng.Stop(context.Background())
	}

	printSessionCosts(costs)
	return nil
}

// subscribeConsole prints bus events and closes done on completion.
func subscribeConsole(eventBus *bus.Bus, console *logger.ConsoleLogger, done chan struct{}) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	eventBus.On(bus.KindStoryStarted, func(e bus.Event) {
		ev := e.(bus.StoryStarted)
		console.LogInfo(fmt.Sprintf("▶ %s %q (attempt %d, model %s)", ev.StoryID, ev.Title, ev.Attempt, ev.ModelID))
	})
	eventBus.On(bus.KindStoryCompleted, func(e bus.Event) {
		ev := e.(bus.StoryCompleted)
		console.LogInfo(green.Sprintf("✔ %s passed (%d/%d ACs)", ev.StoryID, ev.ACPassed, ev.ACTotal))
	})
	eventBus.On(bus.KindStoryFailed, func(e bus.Event) {
		ev := e.(bus.StoryFailed)
		msg := red.Sprintf("✘ %s failed (retry %d)", ev.StoryID, ev.RetryCount)
		if ev.Skipped {
			msg += " (skipped)"
		}
		console.LogWarn(msg)
	})
	eventBus.On(bus.KindQuotaWarning, func(e bus.Event) {
		ev := e.(bus.QuotaWarning)
		console.LogWarn(fmt.Sprintf("quota %s: %s %s", ev.Quota.Status, ev.Quota.Provider, ev.Quota.Details))
	})
	eventBus.On(bus.KindExecutionComplete, func(e bus.Event) {
		ev := e.(bus.ExecutionComplete)
		console.LogInfo(green.Sprintf("project %s complete", ev.Project))
		select {
		case <-done:
		default:
			close(done)
		}
	})
}

func printSessionCosts(costs *cost.Tracker) {
	session := costs.GetSessionCosts()
	if session.StoriesCompleted == 0 {
		return
	}
	fmt.Printf("\nSession: %d stories (%d successful), estimated $%.4f, actual $%.4f\n",
		session.StoriesCompleted, session.StoriesSuccessful,
		session.TotalEstimated, session.TotalActual)
}
