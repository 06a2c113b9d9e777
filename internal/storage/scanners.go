package storage

import (
	"github.com/ernie/synapse/internal/domain"
)

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanPlayer scans a session_players row, decoding the stored guess history
func scanPlayer(sc scanner) (*domain.Player, error) {
	var p domain.Player
	var raw string
	if err := sc.Scan(&p.UserID, &p.Username, &p.AvatarURL, &raw, &p.LastGuessCount); err != nil {
		return nil, err
	}
	history, err := domain.DecodeHistory([]byte(raw))
	if err != nil {
		return nil, err
	}
	p.GuessHistory = history
	return &p, nil
}
