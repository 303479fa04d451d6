package main

import (
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"

	"github.com/seanmoran/hivemind/internal/checkpoint"
	"github.com/seanmoran/hivemind/internal/config"
	"github.com/seanmoran/hivemind/internal/event"
	"github.com/seanmoran/hivemind/internal/executor"
	"github.com/seanmoran/hivemind/internal/session"
	"github.com/seanmoran/hivemind/internal/state"
)

// buildManager assembles the manager stack from loaded configuration.
// The returned cleanup stops live sessions and closes the index.
func buildManager(cfg *config.Config, maxCheckpoints int) (*session.Manager, func(), error) {
	if cfg.Executor.Command == "" {
		return nil, nil, fmt.Errorf("no executor configured: set executor.command in %s or the HIVEMIND_EXECUTOR environment variable", config.GetUserConfigPath())
	}
	runner := executor.NewCommandRunner(cfg.Executor.Command, cfg.Executor.Args...)
	runner.WorkDir = cfg.Executor.WorkFolder

	store, err := checkpoint.NewStore(cfg.CheckpointDir(), maxCheckpoints)
	if err != nil {
		return nil, nil, err
	}

	db, err := state.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open session index: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate session index: %w", err)
	}

	bus := event.NewBus()
	subscribeProgress(bus)

	mgr, err := session.NewManager(session.Deps{
		Checkpoints: store,
		Index:       db,
		Bus:         bus,
		Executor:    runner,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	cleanup := func() {
		mgr.Close()
		if err := db.Close(); err != nil {
			log.Printf("[cli] close index: %v", err)
		}
	}
	return mgr, cleanup, nil
}

// subscribeProgress prints one line per notable engine event.
func subscribeProgress(bus *event.Bus) {
	bus.Subscribe(event.TypeTaskDispatched, func(e event.Event) {
		if ev, ok := e.(event.TaskDispatched); ok {
			fmt.Printf("%s %s -> agent %s (attempt %d)\n",
				color.CyanString("run "), ev.TaskID, ev.AgentID, ev.Attempt)
		}
	})
	bus.Subscribe(event.TypeTaskCompleted, func(e event.Event) {
		if ev, ok := e.(event.TaskCompleted); ok {
			fmt.Printf("%s %s (%s)\n", color.GreenString("done"), ev.TaskID, ev.Duration.Round(time.Millisecond))
		}
	})
	bus.Subscribe(event.TypeTaskFailed, func(e event.Event) {
		if ev, ok := e.(event.TaskFailed); ok {
			fmt.Printf("%s %s: %s\n", color.RedString("fail"), ev.TaskID, ev.Reason)
		}
	})
	bus.Subscribe(event.TypeTaskRework, func(e event.Event) {
		if ev, ok := e.(event.TaskRework); ok {
			fmt.Printf("%s %s (judge attempt %d)\n", color.YellowString("redo"), ev.TaskID, ev.JudgeAttempt)
		}
	})
	bus.Subscribe(event.TypeCheckpointCreated, func(e event.Event) {
		if ev, ok := e.(event.CheckpointCreated); ok {
			fmt.Printf("%s %s (%s, %d bytes)\n", color.BlueString("ckpt"), ev.CheckpointID, ev.Trigger, ev.SizeBytes)
		}
	})
	bus.Subscribe(event.TypePoolScaled, func(e event.Event) {
		if ev, ok := e.(event.PoolScaled); ok {
			fmt.Printf("%s pool %d -> %d (%s)\n", color.MagentaString("pool"), ev.From, ev.To, ev.Reason)
		}
	})
}
