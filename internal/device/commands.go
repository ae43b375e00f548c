package device

import "sync"

// CommandKind selects what a Command asks the supervisor to do.
type CommandKind uint8

const (
	CmdWiFi CommandKind = iota + 1
	CmdForceUpdate
	CmdSetDemoMode
	CmdReset
	CmdReboot
)

// Command is posted by the portal. Reply, if set, receives exactly one
// result once the supervisor has handled the command.
type Command struct {
	Kind     CommandKind
	SSID     string
	Password string
	On       bool
	Reply    chan error
}

func (c Command) done(err error) {
	if c.Reply != nil {
		c.Reply <- err
	}
}

const commandSlots = 8

// Commands is a fixed-size multi-producer, single-consumer queue. Senders
// never block; the supervisor drains it between loop iterations.
type Commands struct {
	mu    sync.Mutex
	head  uint32
	tail  uint32
	slots [commandSlots]Command
	wake  chan struct{}
}

func NewCommands() *Commands {
	return &Commands{wake: make(chan struct{}, 1)}
}

// TrySend enqueues c, returning false if the queue is full.
func (q *Commands) TrySend(c Command) bool {
	q.mu.Lock()
	if q.head-q.tail >= commandSlots {
		q.mu.Unlock()
		return false
	}
	q.slots[q.head%commandSlots] = c
	q.head++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// TryRecv dequeues one command, returning false if empty.
func (q *Commands) TryRecv() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == q.head {
		return Command{}, false
	}
	c := q.slots[q.tail%commandSlots]
	q.slots[q.tail%commandSlots] = Command{}
	q.tail++
	return c, true
}

// Wake fires after a send.
func (q *Commands) Wake() <-chan struct{} { return q.wake }
