package bot

import (
	"context"
	"hash/fnv"
	"sync"

	"rssbot/models"

	log "github.com/sirupsen/logrus"
)

// Messenger sends text back to a room
type Messenger interface {
	SendText(ctx context.Context, roomID, text string) error
}

type ProcessorConfig struct {
	// Number of workers handling messages in parallel
	Workers int

	// Messages buffered per worker before Submit blocks
	QueueSize int

	// Page title fetches running at once, Workers when unset
	Fetches int

	// Messages sent by this user are ignored
	OwnUserID string
}

// Processor runs commands and ingestion on a fixed set of workers. Every
// room is pinned to one worker, so the messages of a room are handled in the
// order they arrived while different rooms proceed in parallel.
//
// Page titles are fetched outside the workers. Each room chains its pending
// items so they are still appended in arrival order, and a slow page never
// holds up commands queued behind it.
type Processor struct {
	config    ProcessorConfig
	queues    []chan models.Message
	fetches   chan struct{}
	commands  *Commands
	ingestor  *Ingestor
	messenger Messenger
	wg        sync.WaitGroup
}

func NewProcessor(config ProcessorConfig, commands *Commands, ingestor *Ingestor, messenger Messenger) *Processor {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 1
	}
	if config.Fetches < 1 {
		config.Fetches = config.Workers
	}

	p := &Processor{
		config:    config,
		queues:    make([]chan models.Message, config.Workers),
		fetches:   make(chan struct{}, config.Fetches),
		commands:  commands,
		ingestor:  ingestor,
		messenger: messenger,
	}
	for i := range p.queues {
		p.queues[i] = make(chan models.Message, config.QueueSize)
	}
	return p
}

// Start launches the workers. They stop when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i, queue := range p.queues {
		p.wg.Add(1)
		go p.startWorker(ctx, i, queue)
	}
}

// Wait blocks until all workers and pending title fetches have stopped
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Submit queues msg on its room's worker
func (p *Processor) Submit(ctx context.Context, msg models.Message) error {
	if p.config.OwnUserID != "" && msg.Sender == p.config.OwnUserID {
		return nil
	}

	queueDepth.Inc()
	select {
	case p.queues[p.shard(msg.RoomID)] <- msg:
		return nil
	case <-ctx.Done():
		queueDepth.Dec()
		return ctx.Err()
	}
}

func (p *Processor) shard(roomID string) int {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Processor) startWorker(ctx context.Context, id int, queue chan models.Message) {
	defer p.wg.Done()

	// Last pending item of every room on this worker, closed once committed
	tails := make(map[string]chan struct{})

	for {
		select {
		case <-ctx.Done():
			log.Debugf("Worker %d: Shutting down", id)
			return
		case msg := <-queue:
			queueDepth.Dec()
			p.handle(ctx, msg, tails)
		}
	}
}

func (p *Processor) handle(ctx context.Context, msg models.Message, tails map[string]chan struct{}) {
	logger := log.WithFields(log.Fields{
		"room":   msg.RoomID,
		"sender": msg.Sender,
	})

	if !IsCommand(msg.Body) {
		p.ingest(ctx, logger, msg, tails)
		return
	}

	reply, err := p.commands.Handle(ctx, msg)
	if err != nil {
		logger.Warnf("Error handling command: %v", err)
	}
	if reply == "" {
		return
	}

	if err := p.messenger.SendText(ctx, msg.RoomID, reply); err != nil {
		logger.Errorf("Failed to send reply: %v", err)
	}
}

func (p *Processor) ingest(ctx context.Context, logger *log.Entry, msg models.Message, tails map[string]chan struct{}) {
	pending, err := p.ingestor.Prepare(ctx, msg)
	if err != nil {
		logger.Warnf("Error ingesting message: %v", err)
		return
	}
	if pending == nil {
		return
	}

	previous := tails[msg.RoomID]
	done := make(chan struct{})
	tails[msg.RoomID] = done

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(done)

		p.fetchTitle(ctx, pending)
		if previous != nil {
			<-previous
		}
		p.ingestor.Commit(pending)
	}()
}

// fetchTitle holds a fetch slot only while the page is fetched, never while
// waiting for the room's previous item.
func (p *Processor) fetchTitle(ctx context.Context, pending *Pending) {
	select {
	case p.fetches <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-p.fetches }()

	p.ingestor.FetchTitle(ctx, pending)
}
