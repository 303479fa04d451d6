package event

import (
	"testing"

	"github.com/seanmoran/hivemind/pkg/models"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe("task.completed", func(e Event) {
		got = append(got, e.EventType())
	})

	bus.Publish(NewTaskCompleted("s1", "t1", 0))
	bus.Publish(NewTaskFailed("s1", "t2", "boom"))

	if len(got) != 1 || got[0] != "task.completed" {
		t.Errorf("expected only task.completed delivered, got %v", got)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(NewTaskCompleted("s1", "t1", 0))
	bus.Publish(NewPoolScaled("s1", 2, 4, "backlog"))
	bus.Publish(NewSessionStatusChanged("s1", models.SessionActive, models.SessionPaused, ""))

	if count != 3 {
		t.Errorf("expected 3 events, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe("task.failed", func(Event) { count++ })

	bus.Publish(NewTaskFailed("s1", "t1", "first"))
	if !bus.Unsubscribe(id) {
		t.Fatal("expected unsubscribe to find the subscription")
	}
	bus.Publish(NewTaskFailed("s1", "t2", "second"))

	if count != 1 {
		t.Errorf("expected 1 delivery after unsubscribe, got %d", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("second unsubscribe should report not found")
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe("task.completed", func(Event) { panic("bad handler") })
	bus.Subscribe("task.completed", func(Event) { delivered = true })

	bus.Publish(NewTaskCompleted("s1", "t1", 0))

	if !delivered {
		t.Error("panic in one handler must not block delivery to others")
	}
}

func TestHandlerOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	bus.Subscribe("judge.verdict", func(Event) { order = append(order, 1) })
	bus.SubscribeAll(func(Event) { order = append(order, 3) })
	bus.Subscribe("judge.verdict", func(Event) { order = append(order, 2) })

	bus.Publish(NewVerdictRendered("s1", models.JudgeVerdict{TaskID: "t1"}))

	want := []int{1, 2, 3}
	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected specific handlers before wildcard, got %v", order)
		}
	}
}
