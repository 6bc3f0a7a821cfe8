package bitmex

import (
	"github.com/coachpo/meltica-bitmex/internal/domain/schema"
	"github.com/coachpo/meltica-bitmex/internal/infra/adapters/shared"
)

// Positions is the position feed of the gateway. BitMEX positions are not
// streamed by this gateway, so listeners only receive what Publish is given.
type Positions struct {
	feed shared.Feed[schema.Position]
}

// OnPositionUpdate registers a listener for position changes.
func (p *Positions) OnPositionUpdate(fn func(schema.Position)) func() {
	return p.feed.Subscribe(fn)
}

// Publish forwards an externally sourced position to listeners.
func (p *Positions) Publish(pos schema.Position) {
	p.feed.Publish(pos)
}
