package core

// Event kinds published by the services.
const (
	EventSubsidyImported = "subsidy.imported"
	EventTasksExpired    = "tasks.expired"
	EventTaskCompleted   = "task.completed"
	EventBonusGenerated  = "bonus.generated"
)

// EventPublisher broadcasts domain events to live listeners (the admin dashboard).
// Publishing never blocks the caller on slow listeners.
type EventPublisher interface {
	Publish(kind string, data interface{})
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(string, interface{}) {}
