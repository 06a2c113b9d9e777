package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ernie/synapse/internal/chat"
	"github.com/ernie/synapse/internal/client"
	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/render"
)

// Coordinator is the slice of the coordinator client the poller needs
type Coordinator interface {
	FetchSession(ctx context.Context, sessionID string) (*domain.MessageSession, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Editor delivers message edits; satisfied by chat.DeliveryChain
type Editor interface {
	Edit(ctx context.Context, h chat.Handle, msg chat.Message) error
}

// RecapTracker records that a recap is owed for a channel and day
type RecapTracker interface {
	Track(ctx context.Context, channelID, guildID, gameDate string) error
}

// playerMirror persists observed player state; satisfied by storage.Store
type playerMirror interface {
	UpsertSessionPlayer(ctx context.Context, sessionID, guildID, gameDate string, p *domain.Player) error
}

// Poller reconciles tracked sessions against the coordinator on a fixed
// interval and keeps the shared progress messages up to date
type Poller struct {
	tracker     *Tracker
	coordinator Coordinator
	mirror      playerMirror
	editor      Editor
	recaps      RecapTracker

	interval time.Duration
	maxAge   time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

func NewPoller(tracker *Tracker, coordinator Coordinator, mirror playerMirror, editor Editor, recaps RecapTracker, interval, maxAge time.Duration) *Poller {
	return &Poller{
		tracker:     tracker,
		coordinator: coordinator,
		mirror:      mirror,
		editor:      editor,
		recaps:      recaps,
		interval:    interval,
		maxAge:      maxAge,
		done:        make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.wg.Add(1)
	go p.pollLoop()
}

func (p *Poller) Stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Tick(context.Background())
		case <-p.done:
			return
		}
	}
}

// Tick runs one reconciliation pass over every tracked session
func (p *Poller) Tick(ctx context.Context) {
	p.tracker.Sweep(time.Now())
	for _, sess := range p.tracker.Active() {
		p.pollSession(ctx, sess)
	}
}

func (p *Poller) pollSession(ctx context.Context, sess *TrackedSession) {
	// one poisoned session must not take down the loop
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic while polling session %s, dropping it: %v", sess.SessionID, r)
			p.tracker.Drop(sess.SessionID)
		}
	}()

	if time.Since(sess.CreatedAt) > p.maxAge {
		log.Printf("Session %s exceeded max age, evicting", sess.SessionID)
		p.finish(ctx, sess)
		return
	}

	remote, err := p.coordinator.FetchSession(ctx, sess.SessionID)
	if errors.Is(err, client.ErrNotFound) {
		// nothing to do this tick; the session may not exist yet
		return
	}
	if err != nil {
		log.Printf("Failed to poll session %s: %v", sess.SessionID, err)
		return
	}

	dirty := false
	for userID, player := range remote.Players {
		count := len(player.GuessHistory)
		if count <= sess.lastCounts[userID] {
			continue
		}
		sess.lastCounts[userID] = count
		// persist the watermark so a restart does not re-edit for known guesses
		player.LastGuessCount = count
		if err := p.mirror.UpsertSessionPlayer(ctx, sess.SessionID, sess.GuildID, sess.GameDate, player); err != nil {
			log.Printf("Failed to mirror player %s of session %s: %v", userID, sess.SessionID, err)
		}
		dirty = true
	}

	complete := remote.AllComplete()

	if dirty {
		msg := chat.Message{Content: render.ProgressMessage(remote)}
		if img, err := render.ProgressImage(remote); err != nil {
			log.Printf("Failed to render progress image for %s: %v", sess.SessionID, err)
		} else if img != nil {
			msg.Files = []chat.File{{Name: "progress.png", Data: img}}
		}
		if !complete {
			msg.Buttons = []chat.Button{{Label: "Play", CustomID: launchCustomID(sess.SessionID)}}
		}
		if err := p.editor.Edit(ctx, sess.Handle, msg); err != nil {
			log.Printf("Failed to edit progress message for %s: %v", sess.SessionID, err)
		}
	}

	if complete {
		p.finish(ctx, sess)
	}
}

// finish hands the session to the recap scheduler and retires it. Any
// failure leaves the session active so the next tick retries.
func (p *Poller) finish(ctx context.Context, sess *TrackedSession) {
	if err := p.recaps.Track(ctx, sess.ChannelID, sess.GuildID, sess.GameDate); err != nil {
		log.Printf("Failed to track recap for session %s: %v", sess.SessionID, err)
		return
	}
	if err := p.coordinator.EndSession(ctx, sess.SessionID); err != nil {
		log.Printf("Failed to end session %s: %v", sess.SessionID, err)
		return
	}
	p.tracker.Retire(sess.SessionID)
	log.Printf("Session %s retired", sess.SessionID)
}
