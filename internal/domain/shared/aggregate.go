package shared

// AggregateRoot is an entity that records domain events and carries a
// version for compare-and-swap updates.
type AggregateRoot interface {
	Entity
	GetVersion() int
	IncrementVersion()
	AddDomainEvent(event DomainEvent)
	GetDomainEvents() []DomainEvent
	PullDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// BaseAggregateRoot holds the version column and pending events
type BaseAggregateRoot struct {
	BaseEntity
	Version int `gorm:"not null;default:1"`
	pending []DomainEvent
}

func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity: NewBaseEntity(),
		Version:    1,
	}
}

// GetVersion returns the version last read from or written to the store
func (a *BaseAggregateRoot) GetVersion() int {
	return a.Version
}

// IncrementVersion is called by repositories after a successful update
func (a *BaseAggregateRoot) IncrementVersion() {
	a.Version++
}

// AddDomainEvent queues an event until the write that caused it commits
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.pending = append(a.pending, event)
}

// GetDomainEvents returns the queued events without draining them
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.pending
}

// PullDomainEvents drains and returns the queued events in record order
func (a *BaseAggregateRoot) PullDomainEvents() []DomainEvent {
	events := a.pending
	a.pending = nil
	return events
}

// ClearDomainEvents drops queued events, e.g. after a failed write
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.pending = nil
}
