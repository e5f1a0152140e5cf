package coach

import (
	"sync"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// HostBridge receives notifications for the embedding chat UI.
// Calls are made from a single goroutine per session, in order, and never
// while session state is locked.
type HostBridge interface {
	OnAcknowledgementStateChange(locked bool)
	OnSuggestedRewrite(text string)
	OnSubmitMessage(text string)
	OnSessionComplete()
	OnStateChange(snap Snapshot)
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	SessionID       string                      `json:"session_id"`
	ProjectName     string                      `json:"project_name"`
	Phase           domain.Phase                `json:"phase"`
	Status          GateStatus                  `json:"status"`
	Gate            GateState                   `json:"gate"`
	GreetingDone    bool                        `json:"greeting_done"`
	ShowNextPhase   bool                        `json:"show_next_phase"`
	QuestionCounter int                         `json:"question_counter"`
	Progress        int                         `json:"progress"`
	Analyzing       bool                        `json:"analyzing"`
	Analysis        *domain.StakeholderAnalysis `json:"analysis,omitempty"`
	LastAnalyzedID  string                      `json:"last_analyzed_id,omitempty"`
	GuidanceStage   string                      `json:"guidance_stage,omitempty"`
	Guidance        *domain.Guidance            `json:"guidance,omitempty"`
	Complete        bool                        `json:"complete"`
}

// NopBridge discards every notification.
type NopBridge struct{}

func (NopBridge) OnAcknowledgementStateChange(bool) {}
func (NopBridge) OnSuggestedRewrite(string)         {}
func (NopBridge) OnSubmitMessage(string)            {}
func (NopBridge) OnSessionComplete()                {}
func (NopBridge) OnStateChange(Snapshot)            {}

// outbox delivers bridge calls in enqueue order on one goroutine.
// push never blocks, so it is safe to call with session state locked.
type outbox struct {
	mu     sync.Mutex
	queue  []func(HostBridge)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newOutbox(bridge HostBridge) *outbox {
	o := &outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run(bridge)
	return o
}

func (o *outbox) push(fn func(HostBridge)) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, fn)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run(bridge HostBridge) {
	defer close(o.done)
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		closed := o.closed
		o.mu.Unlock()

		for _, fn := range batch {
			fn(bridge)
		}
		if len(batch) == 0 {
			if closed {
				return
			}
			<-o.wake
		}
	}
}

// close delivers everything already queued, then stops the goroutine.
func (o *outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return
	}
	o.closed = true
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
	<-o.done
}
