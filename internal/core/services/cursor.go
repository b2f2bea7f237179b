package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ranking"
)

const cursorVersion = 1

// maxClockSkew : tolérance pour un as_of légèrement dans le futur (horloges des pods)
const maxClockSkew = time.Minute

// Cursor est la position du dernier item servi + le snapshot de la requête.
// as_of fige l'heure de scoring et la fenêtre de candidats entre deux pages.
type Cursor struct {
	Feed domain.FeedType
	AsOf time.Time
	Last ranking.Key
}

// Format du token : base64url(payload JSON) "." base64url(HMAC-SHA256(payload))
type cursorPayload struct {
	V        int                `json:"v"`
	Feed     domain.FeedType    `json:"f"`
	AsOf     int64              `json:"a"`
	Score    uint64             `json:"s"` // bits IEEE 754, pour un aller-retour exact
	PostedAt int64              `json:"c"`
	Type     domain.ContentType `json:"t"`
	ID       string             `json:"i"`
}

type CursorCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCursorCodec(secret []byte, ttl time.Duration) *CursorCodec {
	return &CursorCodec{secret: secret, ttl: ttl, now: time.Now}
}

func (c *CursorCodec) Encode(cur Cursor) (string, error) {
	payload := cursorPayload{
		V:        cursorVersion,
		Feed:     cur.Feed,
		AsOf:     cur.AsOf.UnixNano(),
		Score:    math.Float64bits(cur.Last.Score),
		PostedAt: cur.Last.PostedAt.UnixNano(),
		Type:     cur.Last.Type,
		ID:       cur.Last.ID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cursor: marshal: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(raw)
	sig := base64.RawURLEncoding.EncodeToString(c.sign(raw))
	return body + "." + sig, nil
}

// Decode vérifie signature, version, type de feed et fraîcheur.
// Toute erreur renvoyée enveloppe domain.ErrInvalidCursor.
func (c *CursorCodec) Decode(token string, feed domain.FeedType) (Cursor, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return Cursor{}, fmt.Errorf("%w: malformed token", domain.ErrInvalidCursor)
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: payload encoding: %v", domain.ErrInvalidCursor, err)
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: signature encoding: %v", domain.ErrInvalidCursor, err)
	}
	// Comparaison en temps constant
	if !hmac.Equal(gotSig, c.sign(raw)) {
		return Cursor{}, fmt.Errorf("%w: bad signature", domain.ErrInvalidCursor)
	}

	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Cursor{}, fmt.Errorf("%w: payload: %v", domain.ErrInvalidCursor, err)
	}
	if p.V != cursorVersion {
		return Cursor{}, fmt.Errorf("%w: unsupported version %d", domain.ErrInvalidCursor, p.V)
	}
	if p.Feed != feed {
		return Cursor{}, fmt.Errorf("%w: cursor belongs to feed %q", domain.ErrInvalidCursor, p.Feed)
	}
	if !p.Type.Valid() {
		return Cursor{}, fmt.Errorf("%w: unknown content type %q", domain.ErrInvalidCursor, p.Type)
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		return Cursor{}, fmt.Errorf("%w: item id: %v", domain.ErrInvalidCursor, err)
	}

	asOf := time.Unix(0, p.AsOf).UTC()
	now := c.now()
	if asOf.After(now.Add(maxClockSkew)) {
		return Cursor{}, fmt.Errorf("%w: snapshot in the future", domain.ErrInvalidCursor)
	}
	if c.ttl > 0 && now.Sub(asOf) > c.ttl {
		return Cursor{}, fmt.Errorf("%w: expired", domain.ErrInvalidCursor)
	}

	score := math.Float64frombits(p.Score)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Cursor{}, fmt.Errorf("%w: score out of range", domain.ErrInvalidCursor)
	}

	return Cursor{
		Feed: p.Feed,
		AsOf: asOf,
		Last: ranking.Key{
			Score:    score,
			PostedAt: time.Unix(0, p.PostedAt).UTC(),
			Type:     p.Type,
			ID:       p.ID,
		},
	}, nil
}

func (c *CursorCodec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
