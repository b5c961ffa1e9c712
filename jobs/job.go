package jobs

import (
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// Infinite is the duration of a job that never fires on its own.
const Infinite = time.Duration(math.MaxInt64)

const infiniteLiteral = `"Infinity"`

// Remaining is the time left on a job. It is persisted as milliseconds, or "Infinity".
type Remaining time.Duration

func (r Remaining) Infinite() bool {
	return time.Duration(r) == Infinite
}

func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.Infinite() {
		return []byte(infiniteLiteral), nil
	}
	ms := float64(r) / float64(time.Millisecond)
	return strconv.AppendFloat(nil, ms, 'f', -1, 64), nil
}

func (r *Remaining) UnmarshalJSON(bz []byte) error {
	if string(bz) == infiniteLiteral {
		*r = Remaining(Infinite)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(bz, &ms); err != nil {
		return eris.Wrapf(err, "invalid job duration %s", bz)
	}
	*r = Remaining(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// Job is a deferred call to a plugin method. It is plain data so that it survives in save snapshots.
type Job struct {
	Key      string    `json:"key"`
	Duration Remaining `json:"duration"`
	Plugin   string    `json:"plugin"`
	Method   string    `json:"method"`
}

func (j Job) ready() bool {
	return !j.Duration.Infinite() && j.Duration <= 0
}

func (j Job) advance(delta time.Duration) Job {
	if j.Duration.Infinite() {
		return j
	}
	j.Duration -= Remaining(delta)
	return j
}
