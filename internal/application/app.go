// Package application wires the driver's domain services and
// infrastructure adapters into a single runnable instance.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dialogkernel/driver/internal/domain/dialog"
	"github.com/dialogkernel/driver/internal/domain/entity"
	"github.com/dialogkernel/driver/internal/domain/service"
	domaintool "github.com/dialogkernel/driver/internal/domain/tool"
	"github.com/dialogkernel/driver/internal/infrastructure/config"
	"github.com/dialogkernel/driver/internal/infrastructure/eventbus"
	"github.com/dialogkernel/driver/internal/infrastructure/llm"
	_ "github.com/dialogkernel/driver/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/dialogkernel/driver/internal/infrastructure/llm/openai"    // register openai provider factory
	"github.com/dialogkernel/driver/internal/infrastructure/mindset"
	"github.com/dialogkernel/driver/internal/infrastructure/persistence"
	"github.com/dialogkernel/driver/internal/infrastructure/scheduler"
	toolpkg "github.com/dialogkernel/driver/internal/infrastructure/tool"
	apperrors "github.com/dialogkernel/driver/pkg/errors"
	"github.com/dialogkernel/driver/pkg/safego"
	"gorm.io/gorm"
)

// App is the dependency-injection container wiring C1-C11 into a runnable
// driver instance: one per workspace.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	dialogs    *persistence.DialogStore
	pending    *dialog.PendingRegistry
	q4h        *dialog.Q4HRegistry
	subdialogs *dialog.Manager

	toolRegistry domaintool.Registry
	toolExecutor *toolpkg.Executor
	reminders    *toolpkg.ReminderStore

	llmRouter  *llm.Router
	llmCaller  *service.LLMCaller
	health     *service.ContextHealthEvaluator
	runStates  *service.RunStateRegistry
	diligence  *service.DiligenceBudget
	mindsetSvc *mindset.Provider
	events     *eventbus.Bus
	eventsDur  *eventbus.PersistentBus

	driveLoop *service.DriveLoop
	scheduler *scheduler.Scheduler
}

// NewApp builds and wires a full App from cfg: bootstrapping the workspace,
// loading persisted dialogs, and constructing every domain service in
// dependency order. It does not start the scheduler loop or the mindset
// watcher — call Start for that.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(cfg.Workspace, logger); err != nil {
		return nil, fmt.Errorf("bootstrap workspace: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	if err := app.initPersistence(); err != nil {
		return nil, fmt.Errorf("init persistence: %w", err)
	}
	if err := app.initTools(); err != nil {
		return nil, fmt.Errorf("init tools: %w", err)
	}
	if err := app.initLLM(); err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("init domain services: %w", err)
	}
	if err := app.initDriveLoop(); err != nil {
		return nil, fmt.Errorf("init drive loop: %w", err)
	}

	return app, nil
}

// initPersistence opens the YAML dialog store (and, if configured, the
// optional GORM secondary index) and loads any snapshots left from a prior
// run.
func (app *App) initPersistence() error {
	app.dialogs = persistence.NewDialogStore(config.RunDir(app.config.Workspace), app.logger)
	if err := app.dialogs.LoadAll(); err != nil {
		return fmt.Errorf("load dialog snapshots: %w", err)
	}

	if app.config.Database.Enabled {
		db, err := persistence.NewDBConnection(app.config.Database)
		if err != nil {
			return fmt.Errorf("connect secondary index: %w", err)
		}
		app.db = db
	}

	if app.config.EventBus.Durable {
		bus, err := eventbus.NewPersistentBus(eventbus.PersistentBusConfig{
			WALDir:     config.RunDir(app.config.Workspace),
			BufferSize: app.config.EventBus.BufferSize,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("open persistent event bus: %w", err)
		}
		if _, err := bus.Replay(); err != nil {
			app.logger.Warn("event log replay failed", zap.Error(err))
		}
		app.eventsDur = bus
	} else {
		app.events = eventbus.NewBus(app.config.EventBus.BufferSize, app.logger)
	}

	app.pending = dialog.NewPendingRegistry()
	app.q4h = dialog.NewQ4HRegistry()
	return nil
}

// eventPublisher returns whichever event bus flavor is active.
func (app *App) eventPublisher() service.EventPublisher {
	if app.eventsDur != nil {
		return app.eventsDur
	}
	return app.events
}

// initTools builds the tool registry, registers the intrinsic tools every
// dialog gets regardless of policy, and wraps it in the executor the Tool
// Round Executor dispatches through.
func (app *App) initTools() error {
	app.toolRegistry = domaintool.NewInMemoryRegistry()
	app.reminders = toolpkg.NewReminderStore()

	intrinsics := []domaintool.Tool{
		toolpkg.NewAddReminderTool(app.reminders),
		toolpkg.NewDeleteReminderTool(app.reminders),
		toolpkg.NewUpdateReminderTool(app.reminders),
		toolpkg.NewClearMindTool(app.reminders),
		toolpkg.NewEnvGetTool(nil),
	}
	for _, t := range intrinsics {
		if err := app.toolRegistry.Register(t); err != nil {
			return fmt.Errorf("register intrinsic tool %s: %w", t.Name(), err)
		}
	}

	shellTool := toolpkg.NewShellExecTool(app.config.Workspace, 30*time.Second)
	if err := app.toolRegistry.Register(shellTool); err != nil {
		return fmt.Errorf("register shell tool: %w", err)
	}

	app.toolExecutor = toolpkg.NewExecutor(app.toolRegistry, app.logger)
	return nil
}

// initLLM constructs the provider router from configured providers and the
// retry/backoff wrapper (C2) around it.
func (app *App) initLLM() error {
	app.llmRouter = llm.NewRouter(app.logger)
	for _, p := range app.config.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("failed to create LLM provider",
				zap.String("name", p.Name), zap.String("type", p.Type), zap.Error(err))
			continue
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM router initialized", zap.Int("providers", len(app.config.Providers)))

	app.llmCaller = service.NewLLMCaller(app.llmRouter, service.CallerConfig{
		MaxRetries:    app.config.Guardrails.MaxRetries,
		RetryBaseWait: app.config.Guardrails.RetryBaseWait,
		CallTimeout:   service.DefaultCallerConfig().CallTimeout,
	}, app.logger)

	return nil
}

// initDomainServices wires C3/C4/C7/C8/C9: context-health evaluation, the
// tool policy guardrail, the sub-dialog manager, the run-state registry,
// the diligence budget, and the file-backed mindset provider.
func (app *App) initDomainServices() error {
	app.health = service.NewContextHealthEvaluator(
		service.DefaultContextHealthConfig(app.config.Guardrails.ContextMaxTokens),
		app.logger,
	)
	app.runStates = service.NewRunStateRegistry(app.logger)

	app.diligence = service.NewDiligenceBudget(
		config.MindsDir(app.config.Workspace), app.q4h, app.eventPublisher(), app.logger,
	)

	mp, err := mindset.New(config.MindsDir(app.config.Workspace), app.config.DefaultModel, app.logger)
	if err != nil {
		return fmt.Errorf("init mindset provider: %w", err)
	}
	app.mindsetSvc = mp

	return nil
}

// initDriveLoop wires C5/C6/C7/C10: the tool round executor, the drive
// loop itself, the sub-dialog manager (which needs the scheduler to
// schedule its spawned children), and the global scheduler.
func (app *App) initDriveLoop() error {
	policy := domaintool.NewPolicyEnforcer(&domaintool.Policy{Profile: "full"}, app.toolRegistry)
	guardrail := service.NewPolicyGuardrail(policy,
		[]string{"add_reminder", "delete_reminder", "update_reminder", "clear_mind", "recall_task_doc", "change_mind"},
		[]string{"shell_exec"},
	)

	driveLoopConfig := service.DefaultDriveLoopConfig()
	driveLoopConfig.ContextMaxTokens = app.config.Guardrails.ContextMaxTokens
	driveLoopConfig.ContextWarnRatio = app.config.Guardrails.ContextWarnRatio
	driveLoopConfig.ContextHardRatio = app.config.Guardrails.ContextHardRatio
	driveLoopConfig.CompactKeepLast = app.config.Guardrails.CompactKeepLast
	driveLoopConfig.LoopWindowSize = app.config.Guardrails.LoopWindowSize
	driveLoopConfig.LoopDetectThreshold = app.config.Guardrails.LoopDetectThreshold
	driveLoopConfig.LoopNameThreshold = app.config.Guardrails.LoopNameThreshold
	driveLoopConfig.MaxDiligenceInject = app.config.Diligence.MaxInjectCount

	// The scheduler and drive loop close over each other through the
	// Subdialogs/Driver interfaces rather than a direct field, so build the
	// sub-dialog manager first with a forwarding scheduler handle set once
	// the real scheduler exists.
	schedulerHandle := &schedulerForward{}

	app.subdialogs = dialog.NewManager(app.dialogs, app.pending, schedulerHandle, app.q4h, app.logger)
	toolRound := service.NewToolRoundExecutor(app.toolExecutor, app.subdialogs, app.logger)

	app.driveLoop = service.NewDriveLoop(
		app.dialogs,
		app.runStates,
		app.llmCaller,
		guardrail,
		app.toolRegistry,
		app.health,
		toolRound,
		app.diligence,
		app.subdialogs,
		app.q4h,
		app.pending,
		app.mindsetSvc,
		app.eventPublisher(),
		driveLoopConfig,
		app.logger,
	)

	app.scheduler = scheduler.New(app.driveLoop, app.runStates, app.dialogs, scheduler.Config{
		MaxConcurrentDrives: app.config.Scheduler.MaxConcurrentDrives,
	}, app.logger)
	schedulerHandle.target = app.scheduler

	return nil
}

// schedulerForward lets the Sub-dialog Manager hold a Scheduler handle that
// is only assigned once the real scheduler is constructed, breaking the
// construction-order cycle between the two.
type schedulerForward struct {
	target *scheduler.Scheduler
}

func (f *schedulerForward) NotifyNeedsDrive(dialogID string) {
	if f.target != nil {
		f.target.NotifyNeedsDrive(dialogID)
	}
}

// Start launches the scheduler loop and the mindset directory watcher, and
// flags every dialog loaded from disk with outstanding up-next work so the
// scheduler picks up where the process left off.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("starting application", zap.String("workspace", app.config.Workspace))

	safego.Go(app.logger, "scheduler", func() { app.scheduler.Run(ctx) })
	safego.Go(app.logger, "mindset-watcher", func() {
		if err := app.mindsetSvc.Watch(); err != nil {
			app.logger.Warn("mindset watcher stopped", zap.Error(err))
		}
	})

	for _, d := range app.dialogs.All() {
		if d.NeedsDrive {
			app.scheduler.NotifyNeedsDrive(d.SelfID)
		}
	}

	app.logger.Info("application started")
	return nil
}

// Stop halts the scheduler, the mindset watcher, and closes the event bus
// and optional database connection.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("stopping application")

	app.scheduler.Stop()
	app.mindsetSvc.Stop()

	if app.eventsDur != nil {
		app.eventsDur.Close()
	}
	if app.events != nil {
		app.events.Close()
	}

	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("application stopped")
	return nil
}

// OpenDialog creates a fresh root dialog owned by ownerAgentID and returns
// its id, used by the `input` operator command when no dialog id is given.
func (app *App) OpenDialog(ownerAgentID string) string {
	id := uuid.New().String()
	d := entity.NewRootDialog(id, ownerAgentID)
	app.dialogs.Create(d)
	return id
}

// Drive runs one full drive of dialogID with a fresh human prompt, used by
// the `input`, `answer`, and `resume` operator commands.
func (app *App) Drive(ctx context.Context, dialogID string, prompt *service.HumanPromptInput, flags entity.DriveFlags) (dialog.DriveOutcome, error) {
	return app.driveLoop.DriveWithPrompt(ctx, dialogID, prompt, flags, true)
}

// Logger returns the application logger, for CLI/interface reuse.
func (app *App) Logger() *zap.Logger { return app.logger }

// Config returns the loaded configuration.
func (app *App) Config() *config.Config { return app.config }

// Dialogs returns the dialog store, for read-only inspection by operator
// surfaces (status, history).
func (app *App) Dialogs() *persistence.DialogStore { return app.dialogs }

// Q4H returns the Q4H registry, for the `answer` operator command.
func (app *App) Q4H() *dialog.Q4HRegistry { return app.q4h }

// RunStates returns the run-state registry, for `stop`/`resume` commands.
func (app *App) RunStates() *service.RunStateRegistry { return app.runStates }

// Events returns the active event publisher, for an event-stream surface
// to subscribe against.
func (app *App) Events() service.EventPublisher { return app.eventPublisher() }

// Subscribe opens a subscription against the active event bus, for the
// WebSocket event-stream bridge and any other live-event consumer.
func (app *App) Subscribe(rootID string) (<-chan eventbus.Event, func()) {
	if app.eventsDur != nil {
		return app.eventsDur.Subscribe(rootID)
	}
	return app.events.Subscribe(rootID)
}

// Scheduler exposes the scheduler for NotifyNeedsDrive calls from operator
// commands that enqueue a drive without supplying a fresh prompt.
func (app *App) Scheduler() *scheduler.Scheduler { return app.scheduler }

// InputDialog delivers a fresh human message into dialogID, opening a new
// root dialog first if dialogID is empty. Backs the `input` operator
// command.
func (app *App) InputDialog(ctx context.Context, dialogID, content string) (string, dialog.DriveOutcome, error) {
	if dialogID == "" {
		dialogID = app.OpenDialog("operator")
	}
	outcome, err := app.Drive(ctx, dialogID, &service.HumanPromptInput{
		Content: content,
		Origin:  entity.OriginUser,
	}, entity.DriveFlags{})
	return dialogID, outcome, err
}

// StopDialog requests (or, for emergency_stop, forces) dialogID's active
// run to halt. Backs the `stop` operator command.
func (app *App) StopDialog(dialogID string, reason entity.StopReason) bool {
	if reason == entity.StopEmergency {
		return app.runStates.Abort(dialogID, reason, "operator emergency stop")
	}
	return app.runStates.RequestStop(dialogID, reason)
}

// ResumeDialog re-queues a scheduler drive for dialogID with no fresh
// prompt. Backs the `resume` operator command.
func (app *App) ResumeDialog(ctx context.Context, dialogID string) error {
	return app.driveLoop.Drive(ctx, dialogID, true)
}

// AnswerQ4H records an operator's answer to a pending human question and
// re-drives the dialog it was raised against. Backs the `answer` operator
// command.
func (app *App) AnswerQ4H(ctx context.Context, q4hID, answer string) (dialog.DriveOutcome, error) {
	dialogID, ok := app.q4h.AnswerByID(q4hID, answer)
	if !ok {
		return dialog.DriveOutcome{}, apperrors.NewNotFoundError(fmt.Sprintf("no pending question %s", q4hID))
	}
	return app.Drive(ctx, dialogID, &service.HumanPromptInput{
		Q4HAnswerCallIDs: []string{q4hID},
		Origin:           entity.OriginUser,
	}, entity.DriveFlags{})
}
