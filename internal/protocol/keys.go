package protocol

import (
	"encoding/json"

	"github.com/thisisrandy/igo/internal/game"
)

// KeyPair is one player's credentials: the player key, plus the AI
// secret when that color is designated as a computer player.
type KeyPair struct {
	PlayerKey string
	AISecret  string
}

// KeyContainer holds both players' key pairs. AI secrets are dropped
// during serialization, they being secrets and all.
type KeyContainer struct {
	White KeyPair
	Black KeyPair
}

// Get returns the key pair for the given color.
func (k *KeyContainer) Get(color game.Color) KeyPair {
	if color == game.White {
		return k.White
	}
	return k.Black
}

func (k KeyContainer) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		string(game.White): k.White.PlayerKey,
		string(game.Black): k.Black.PlayerKey,
	})
}

func (k *KeyContainer) UnmarshalJSON(data []byte) error {
	var keys map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	k.White = KeyPair{PlayerKey: keys[string(game.White)]}
	k.Black = KeyPair{PlayerKey: keys[string(game.Black)]}
	return nil
}
