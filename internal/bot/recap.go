package bot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ernie/synapse/internal/chat"
	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/render"
)

// Poster sends fresh channel messages; satisfied by chat.DeliveryChain
type Poster interface {
	Post(ctx context.Context, channelID string, msg chat.Message) (string, error)
}

// recapStore is the slice of the durable store the scheduler needs;
// satisfied by storage.Store
type recapStore interface {
	TrackPendingRecap(ctx context.Context, channelID, guildID, gameDate string) error
	PendingRecaps(ctx context.Context, gameDate string) ([]domain.PendingRecap, error)
	MarkRecapPosted(ctx context.Context, channelID, gameDate string) error
	GetGameResults(ctx context.Context, guildID, gameDate string) ([]domain.GameResult, error)
	GetGuildDatePlayers(ctx context.Context, guildID, gameDate string) ([]*domain.Player, error)
	PurgeSessionPlayersBefore(ctx context.Context, gameDate string) error
}

// Scheduler posts yesterday's ranked recap to each channel that owes
// one, once the configured cutoff time has passed in the reference zone
type Scheduler struct {
	store  recapStore
	poster Poster

	hour   int
	minute int
	zone   *time.Location

	interval time.Duration
	now      func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(store recapStore, poster Poster, hour, minute int, zone *time.Location) *Scheduler {
	return &Scheduler{
		store:    store,
		poster:   poster,
		hour:     hour,
		minute:   minute,
		zone:     zone,
		interval: time.Minute,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Track upserts the pending-recap marker for a channel and day. Multiple
// completions in the same channel collapse into one row.
func (s *Scheduler) Track(ctx context.Context, channelID, guildID, gameDate string) error {
	return s.store.TrackPendingRecap(ctx, channelID, guildID, gameDate)
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background())
		case <-s.done:
			return
		}
	}
}

// Tick posts every recap that is due. Failed sends stay pending and
// retry on the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().In(s.zone)
	if now.Hour() < s.hour || (now.Hour() == s.hour && now.Minute() < s.minute) {
		return
	}
	yesterday := domain.AddDays(domain.GameDay(now, s.zone), -1)

	pending, err := s.store.PendingRecaps(ctx, yesterday)
	if err != nil {
		log.Printf("Failed to load pending recaps: %v", err)
		return
	}

	for _, recap := range pending {
		if err := s.post(ctx, recap); err != nil {
			log.Printf("Failed to post recap for channel %s on %s: %v", recap.ChannelID, recap.GameDate, err)
		}
	}

	// Participation rows outlive their session so the recap can list
	// starters; days before yesterday can never be recapped again
	if err := s.store.PurgeSessionPlayersBefore(ctx, yesterday); err != nil {
		log.Printf("Failed to purge stale participation rows: %v", err)
	}
}

func (s *Scheduler) post(ctx context.Context, recap domain.PendingRecap) error {
	results, err := s.store.GetGameResults(ctx, recap.GuildID, recap.GameDate)
	if err != nil {
		return err
	}
	starters, err := s.starters(ctx, recap, results)
	if err != nil {
		return err
	}

	msg := chat.Message{Content: render.RecapMessage(recap.GameDate, results, starters)}
	if _, err := s.poster.Post(ctx, recap.ChannelID, msg); err != nil {
		return err
	}

	// Marking after the send means a lost acknowledgment can duplicate
	// the recap; the pending row is the only dedupe
	if err := s.store.MarkRecapPosted(ctx, recap.ChannelID, recap.GameDate); err != nil {
		return err
	}
	log.Printf("Posted recap for channel %s on %s", recap.ChannelID, recap.GameDate)
	return nil
}

// starters lists players who joined a session that day but have no
// recorded result, in store order
func (s *Scheduler) starters(ctx context.Context, recap domain.PendingRecap, results []domain.GameResult) ([]string, error) {
	players, err := s.store.GetGuildDatePlayers(ctx, recap.GuildID, recap.GameDate)
	if err != nil {
		return nil, err
	}

	finished := make(map[string]bool, len(results))
	for _, res := range results {
		finished[res.UserID] = true
	}

	var names []string
	for _, p := range players {
		if !finished[p.UserID] {
			names = append(names, p.Username)
		}
	}
	return names, nil
}
