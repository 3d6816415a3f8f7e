package monitor

import "time"

// Pacer holds the fixed waits between requests to a shop.
type Pacer struct {
	// RequestDelay follows every product page fetch.
	RequestDelay time.Duration
	// ArtistDelay follows every artist in a discover pass.
	ArtistDelay time.Duration
	// Cooldown is applied in a refresh pass after every CooldownEvery products.
	Cooldown      time.Duration
	CooldownEvery int
	Sleep         func(time.Duration)
}

// DefaultPacer returns the production pacing.
func DefaultPacer() Pacer {
	return Pacer{
		RequestDelay:  500 * time.Millisecond,
		ArtistDelay:   time.Second,
		Cooldown:      30 * time.Second,
		CooldownEvery: 64,
		Sleep:         time.Sleep,
	}
}

func (p Pacer) wait(d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep == nil {
		time.Sleep(d)
		return
	}
	p.Sleep(d)
}

func (p Pacer) afterRequest() { p.wait(p.RequestDelay) }

func (p Pacer) afterArtist() { p.wait(p.ArtistDelay) }

// cooldownDue reports whether processed products call for the long wait.
func (p Pacer) cooldownDue(processed int) bool {
	return p.CooldownEvery > 0 && processed > 0 && processed%p.CooldownEvery == 0
}

func (p Pacer) cooldown() { p.wait(p.Cooldown) }
