package server

import (
	"math"
	"strings"
	"sync"

	"github.com/intinig/go-openskill/rating"
	"github.com/intinig/go-openskill/types"
	"go.uber.org/thriftrw/ptr"
)

const (
	DefaultRatingMu    = 1500.0
	DefaultRatingSigma = 500.0
	DefaultRatingZ     = 3
)

// RatingContext is the namespace a rating belongs to. A player holds one rating per context.
type RatingContext int

const (
	RatingGlobal RatingContext = iota
	RatingLadder
)

func (c RatingContext) String() string {
	switch c {
	case RatingGlobal:
		return "global"
	case RatingLadder:
		return "ladder"
	}
	return "unknown"
}

func ParseRatingContext(s string) (RatingContext, bool) {
	switch strings.ToLower(s) {
	case "global", "":
		return RatingGlobal, true
	case "ladder", "ladder1v1":
		return RatingLadder, true
	}
	return 0, false
}

func (c RatingContext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *RatingContext) UnmarshalText(b []byte) error {
	v, ok := ParseRatingContext(string(b))
	if !ok {
		return NewGameErrorf(InvalidOption, "unknown rating context %q", string(b))
	}
	*c = v
	return nil
}

// Player is a participant referenced by a game. The game never owns it.
type Player interface {
	ID() int64
	Login() string
	Rating(ctx RatingContext) types.Rating
	IsAI() bool
}

// RatingApplier is implemented by players whose in-memory rating follows persisted updates.
type RatingApplier interface {
	ApplyRating(ctx RatingContext, r types.Rating)
}

// NewRating creates a rating on the server's scale. Non-positive values fall back to the defaults.
func NewRating(mu, sigma float64) types.Rating {
	r := rating.NewWithOptions(&types.OpenSkillOptions{
		Mu:    ptr.Float64(DefaultRatingMu),
		Sigma: ptr.Float64(DefaultRatingSigma),
	})
	r.Z = DefaultRatingZ
	if mu > 0 {
		r.Mu = mu
	}
	if sigma > 0 {
		r.Sigma = sigma
	}
	return r
}

// ConservativeRating is the displayed rating, mean minus three deviations.
func ConservativeRating(r types.Rating) int {
	return int(math.Trunc(r.Mu - 3*r.Sigma))
}

// OnlinePlayer is a human player with an authenticated session.
type OnlinePlayer struct {
	sync.RWMutex
	id      int64
	login   string
	ratings map[RatingContext]types.Rating
}

func NewOnlinePlayer(id int64, login string, ratings map[RatingContext]types.Rating) *OnlinePlayer {
	p := &OnlinePlayer{
		id:      id,
		login:   login,
		ratings: make(map[RatingContext]types.Rating, 2),
	}
	for k, v := range ratings {
		p.ratings[k] = v
	}
	return p
}

func (p *OnlinePlayer) ID() int64 {
	return p.id
}

func (p *OnlinePlayer) Login() string {
	return p.login
}

func (p *OnlinePlayer) IsAI() bool {
	return false
}

func (p *OnlinePlayer) Rating(ctx RatingContext) types.Rating {
	p.RLock()
	defer p.RUnlock()
	if r, ok := p.ratings[ctx]; ok {
		return r
	}
	return NewRating(0, 0)
}

func (p *OnlinePlayer) ApplyRating(ctx RatingContext, r types.Rating) {
	p.Lock()
	defer p.Unlock()
	p.ratings[ctx] = r
}

// AIPlayer occupies a slot on behalf of a computer opponent. It is identified by name.
type AIPlayer struct {
	id     int64
	name   string
	rating types.Rating
}

func NewAIPlayer(id int64, name string, r types.Rating) *AIPlayer {
	return &AIPlayer{
		id:     id,
		name:   name,
		rating: r,
	}
}

func (p *AIPlayer) ID() int64 {
	return p.id
}

func (p *AIPlayer) Login() string {
	return p.name
}

func (p *AIPlayer) IsAI() bool {
	return true
}

// AIs share one rating per context.
func (p *AIPlayer) Rating(RatingContext) types.Rating {
	return p.rating
}

// AIRatingName returns the name AI rating rows are stored under: "QAI2" and "QAI" share a row.
func AIRatingName(name string) string {
	return strings.TrimRight(name, "0123456789")
}
