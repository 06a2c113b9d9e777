package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ernie/synapse/internal/chat"
	"github.com/ernie/synapse/internal/client"
	"github.com/ernie/synapse/internal/discord"
	"github.com/ernie/synapse/internal/domain"
	"github.com/ernie/synapse/internal/render"
)

const (
	commandName  = "connections"
	launchPrefix = "launch_activity_"

	// interaction tokens stop working fifteen minutes after creation
	interactionTokenTTL = 15 * time.Minute

	interactionTypeCommand   = 2
	interactionTypeComponent = 3
)

func launchCustomID(sessionID string) string {
	return launchPrefix + sessionID
}

// cardMessage is the freshly-started progress card with its Play button
func cardMessage(card *domain.MessageSession, messageID string) chat.Message {
	return chat.Message{
		Content: render.ProgressMessage(card),
		Buttons: []chat.Button{{Label: "Play", CustomID: launchCustomID(messageID)}},
	}
}

// Responder answers interactions; satisfied by discord.REST
type Responder interface {
	CreateInteractionResponse(ctx context.Context, interactionID, token, content string, ephemeral bool) error
	OriginalResponseID(ctx context.Context, applicationID, token string) (string, error)
}

// SessionClient is the slice of the coordinator client the router needs
type SessionClient interface {
	StartSession(ctx context.Context, sessionID, guildID, channelID, gameDate string) (*domain.MessageSession, error)
	JoinSession(ctx context.Context, sessionID, userID, username, avatarURL, guildID, gameDate string) (string, error)
	FetchSession(ctx context.Context, sessionID string) (*domain.MessageSession, error)
}

// Router turns gateway interactions into session operations: the slash
// command starts a session, the Play button joins one, restoring or
// replacing the session when the bot no longer tracks it
type Router struct {
	coordinator   SessionClient
	responder     Responder
	poster        Poster
	editor        Editor
	tracker       *Tracker
	zone          *time.Location
	applicationID string
	timeout       time.Duration
}

func NewRouter(coordinator SessionClient, responder Responder, poster Poster, editor Editor, tracker *Tracker, zone *time.Location, applicationID string) *Router {
	return &Router{
		coordinator:   coordinator,
		responder:     responder,
		poster:        poster,
		editor:        editor,
		tracker:       tracker,
		zone:          zone,
		applicationID: applicationID,
		timeout:       15 * time.Second,
	}
}

// Handle dispatches one interaction. Called from the gateway read loop.
func (r *Router) Handle(interaction discord.Interaction) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch interaction.Type {
	case interactionTypeCommand:
		if interaction.Data.Name == commandName {
			r.startSession(ctx, interaction)
		}
	case interactionTypeComponent:
		if sessionID, ok := strings.CutPrefix(interaction.Data.CustomID, launchPrefix); ok {
			r.join(ctx, interaction, sessionID)
		}
	}
}

func (r *Router) startSession(ctx context.Context, interaction discord.Interaction) {
	gameDate := interaction.StringOption("date")
	if gameDate == "" {
		gameDate = domain.Today(r.zone)
	}
	if !domain.ValidDate(gameDate) {
		r.respondEphemeral(ctx, interaction, "That date doesn't look right. Use YYYY-MM-DD.")
		return
	}

	card := &domain.MessageSession{GameDate: gameDate}
	if err := r.responder.CreateInteractionResponse(ctx, interaction.ID, interaction.Token, render.ProgressMessage(card), false); err != nil {
		log.Printf("Failed to respond to interaction %s: %v", interaction.ID, err)
		return
	}

	messageID, err := r.responder.OriginalResponseID(ctx, r.applicationID, interaction.Token)
	if err != nil {
		log.Printf("Failed to resolve card message for interaction %s: %v", interaction.ID, err)
		return
	}

	if _, err := r.coordinator.StartSession(ctx, messageID, interaction.GuildID, interaction.ChannelID, gameDate); err != nil {
		log.Printf("Failed to start session %s: %v", messageID, err)
		return
	}

	handle := chat.Handle{
		ChannelID:        interaction.ChannelID,
		MessageID:        messageID,
		InteractionToken: interaction.Token,
		TokenExpiry:      time.Now().Add(interactionTokenTTL),
	}

	// the Play button needs the message id, so it goes on with an edit
	if err := r.editor.Edit(ctx, handle, cardMessage(card, messageID)); err != nil {
		log.Printf("Failed to attach Play button to %s: %v", messageID, err)
	}

	r.tracker.Track(&TrackedSession{
		SessionID: messageID,
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
		GameDate:  gameDate,
		Handle:    handle,
	})
}

// join handles a Play button press. Sessions unknown to this process are
// restored from the coordinator; a press on a finished card spawns a
// fresh session in the same channel.
func (r *Router) join(ctx context.Context, interaction discord.Interaction, sessionID string) {
	user := interaction.Sender()
	if user.ID == "" {
		return
	}

	remote, err := r.coordinator.FetchSession(ctx, sessionID)
	if errors.Is(err, client.ErrNotFound) {
		r.respondEphemeral(ctx, interaction, "This game has expired. Start a new one with /"+commandName+".")
		return
	}
	if err != nil {
		log.Printf("Failed to fetch session %s for join: %v", sessionID, err)
		r.respondEphemeral(ctx, interaction, "Couldn't reach the game server, try again in a moment.")
		return
	}

	if !r.tracker.Tracked(sessionID) {
		r.tracker.Track(&TrackedSession{
			SessionID: sessionID,
			GuildID:   remote.GuildID,
			ChannelID: remote.ChannelID,
			GameDate:  remote.GameDate,
			Handle:    chat.Handle{ChannelID: remote.ChannelID, MessageID: sessionID},
		})
	}

	target := sessionID
	gameDate := remote.GameDate
	if remote.AllComplete() {
		target, err = r.replySession(ctx, remote)
		if err != nil {
			log.Printf("Failed to spawn follow-up session in channel %s: %v", remote.ChannelID, err)
			r.respondEphemeral(ctx, interaction, "Couldn't start a new game, try again in a moment.")
			return
		}
	}

	if _, err := r.coordinator.JoinSession(ctx, target, user.ID, user.Username, avatarURL(user), remote.GuildID, gameDate); err != nil {
		log.Printf("Failed to join %s to session %s: %v", user.ID, target, err)
		r.respondEphemeral(ctx, interaction, "Couldn't join the game, try again in a moment.")
		return
	}

	r.respondEphemeral(ctx, interaction, "You're in! Open the activity to play.")
}

// replySession posts a fresh card because the pressed one is finished
func (r *Router) replySession(ctx context.Context, finished *domain.MessageSession) (string, error) {
	card := &domain.MessageSession{GameDate: finished.GameDate}
	messageID, err := r.poster.Post(ctx, finished.ChannelID, chat.Message{Content: render.ProgressMessage(card)})
	if err != nil {
		return "", err
	}
	if _, err := r.coordinator.StartSession(ctx, messageID, finished.GuildID, finished.ChannelID, finished.GameDate); err != nil {
		return "", err
	}

	handle := chat.Handle{ChannelID: finished.ChannelID, MessageID: messageID}
	if err := r.editor.Edit(ctx, handle, cardMessage(card, messageID)); err != nil {
		log.Printf("Failed to attach Play button to %s: %v", messageID, err)
	}

	r.tracker.Track(&TrackedSession{
		SessionID: messageID,
		GuildID:   finished.GuildID,
		ChannelID: finished.ChannelID,
		GameDate:  finished.GameDate,
		Handle:    chat.Handle{ChannelID: finished.ChannelID, MessageID: messageID},
	})
	return messageID, nil
}

func (r *Router) respondEphemeral(ctx context.Context, interaction discord.Interaction, content string) {
	if err := r.responder.CreateInteractionResponse(ctx, interaction.ID, interaction.Token, content, true); err != nil {
		log.Printf("Failed to respond to interaction %s: %v", interaction.ID, err)
	}
}

func avatarURL(user discord.User) string {
	if user.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", user.ID, user.Avatar)
}
