package loadtest

import (
	"math/rand"
	"strconv"
	"time"
)

const (
	strChars       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" // 62 characters
	strCharIdxBits = 6
	strCharIdxMask = 1<<strCharIdxBits - 1
	strCharIdxMax  = 63 / strCharIdxBits

	// PayloadOverhead is the number of bytes the JSON envelope adds to the
	// random string in every payload.
	PayloadOverhead = len(`{"dt":`) + tickDigits + len(`,"payload":"`) + len(`"}`)

	// The "dt" field holds the number of 10 microsecond ticks since the Unix
	// epoch, which has exactly 15 digits between September 2001 and the year
	// 2286. Values outside of that range are clamped.
	tickDuration = 10 * time.Microsecond
	tickDigits   = 15
	minTicks     = int64(100000000000000)
	maxTicks     = int64(999999999999999)
)

// PayloadSize returns the total encoded size of a payload whose random string
// is messageSize bytes long.
func PayloadSize(messageSize int) int {
	return PayloadOverhead + messageSize
}

// PayloadGenerator synthesizes payloads of a fixed size. It is not safe for
// concurrent use: each worker owns its own generator.
type PayloadGenerator struct {
	size int
	rnd  *rand.Rand
	now  func() time.Time
}

// NewPayloadGenerator creates a generator for payloads whose random string is
// size bytes long.
func NewPayloadGenerator(size int, seed int64) *PayloadGenerator {
	if size < 0 {
		size = 0
	}
	return &PayloadGenerator{
		size: size,
		rnd:  rand.New(rand.NewSource(seed)),
		now:  time.Now,
	}
}

// Next synthesizes a fresh payload of the form
// {"dt":<ticks>,"payload":"<random string>"}.
func (g *PayloadGenerator) Next() string {
	return buildPayload(g.now(), g.size, g.rnd.Int63)
}

// Synthesize produces a printable, JSON-safe random string of exactly size
// bytes. It is safe for concurrent use.
func Synthesize(size int) string {
	if size <= 0 {
		return ""
	}
	b := make([]byte, size)
	fillRandom(b, rand.Int63)
	return string(b)
}

func buildPayload(now time.Time, size int, int63 func() int64) string {
	if size < 0 {
		size = 0
	}
	b := make([]byte, 0, PayloadOverhead+size)
	b = append(b, `{"dt":`...)
	b = strconv.AppendInt(b, makeTicks(now), 10)
	b = append(b, `,"payload":"`...)
	start := len(b)
	b = b[:start+size]
	fillRandom(b[start:], int63)
	b = append(b, `"}`...)
	return string(b)
}

func makeTicks(t time.Time) int64 {
	// UnixNano overflows beyond 2262, so build the ticks from seconds
	ticks := t.Unix()*int64(time.Second/tickDuration) + int64(t.Nanosecond())/int64(tickDuration)
	if ticks < minTicks {
		return minTicks
	}
	if ticks > maxTicks {
		return maxTicks
	}
	return ticks
}

// fillRandom fills dst with characters from strChars, drawing 6 bits at a time
// from each 63-bit random number.
func fillRandom(dst []byte, int63 func() int64) {
	for i, cache, remain := len(dst)-1, int63(), strCharIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = int63(), strCharIdxMax
		}
		if idx := int(cache & strCharIdxMask); idx < len(strChars) {
			dst[i] = strChars[idx]
			i--
		}
		cache >>= strCharIdxBits
		remain--
	}
}
