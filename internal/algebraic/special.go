package algebraic

import (
	"time"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

// Identity is a 256-bit value deterministically derived from the
// issuer+subject of a verified JWT (see internal/session).
type Identity [32]byte

// ConnectionID is a random 128-bit value identifying one WebSocket
// lifetime.
type ConnectionID [16]byte

// Timestamp is microseconds since the Unix epoch.
type Timestamp int64

// NewTimestampFromTime converts a time.Time to a Timestamp.
func NewTimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts a Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time { return time.UnixMicro(int64(t)) }

// TimeDuration is a duration in microseconds.
type TimeDuration int64

// NewTimeDurationFromDuration converts a time.Duration to a TimeDuration.
func NewTimeDurationFromDuration(d time.Duration) TimeDuration {
	return TimeDuration(d.Microseconds())
}

// Duration converts a TimeDuration back to a time.Duration.
func (d TimeDuration) Duration() time.Duration { return time.Duration(d) * time.Microsecond }

// ScheduleAt is the {Interval(TimeDuration), Time(Timestamp)} sum that
// drives scheduled-reducer firing.
type ScheduleAt struct {
	IsInterval bool
	Interval   TimeDuration
	At         Timestamp
}

func NewScheduleAtInterval(d TimeDuration) ScheduleAt {
	return ScheduleAt{IsInterval: true, Interval: d}
}

func NewScheduleAtTime(t Timestamp) ScheduleAt {
	return ScheduleAt{IsInterval: false, At: t}
}

// EncodeIdentity/EncodeConnectionID/EncodeTimestamp/EncodeTimeDuration/
// EncodeScheduleAt write the BSATN encoding of the corresponding
// distinguished product/sum shape.

func EncodeIdentity(w *bsatn.Writer, id Identity) { w.WriteU256(id) }

func DecodeIdentity(r *bsatn.Reader) (Identity, error) {
	b, err := r.ReadU256()
	return Identity(b), err
}

func EncodeConnectionID(w *bsatn.Writer, c ConnectionID) { w.WriteU128(c) }

func DecodeConnectionID(r *bsatn.Reader) (ConnectionID, error) {
	b, err := r.ReadU128()
	return ConnectionID(b), err
}

func EncodeTimestamp(w *bsatn.Writer, t Timestamp) { w.WriteI64(int64(t)) }

func DecodeTimestamp(r *bsatn.Reader) (Timestamp, error) {
	v, err := r.ReadI64()
	return Timestamp(v), err
}

func EncodeTimeDuration(w *bsatn.Writer, d TimeDuration) { w.WriteI64(int64(d)) }

func DecodeTimeDuration(r *bsatn.Reader) (TimeDuration, error) {
	v, err := r.ReadI64()
	return TimeDuration(v), err
}

func EncodeScheduleAt(w *bsatn.Writer, s ScheduleAt) {
	if s.IsInterval {
		w.WriteSumTag(0)
		EncodeTimeDuration(w, s.Interval)
	} else {
		w.WriteSumTag(1)
		EncodeTimestamp(w, s.At)
	}
}

func DecodeScheduleAt(r *bsatn.Reader) (ScheduleAt, error) {
	tag, err := r.ReadSumTag()
	if err != nil {
		return ScheduleAt{}, err
	}
	if tag == 0 {
		d, err := DecodeTimeDuration(r)
		return NewScheduleAtInterval(d), err
	}
	t, err := DecodeTimestamp(r)
	return NewScheduleAtTime(t), err
}

// NextFiring computes the next time this ScheduleAt should fire given
// the previous firing time `last` (zero value means "never fired").
// For Interval(d), it is last+d (or now, if last is zero). For
// Time(t), it fires once at t; a past t fires immediately.
func (s ScheduleAt) NextFiring(last time.Time) time.Time {
	if s.IsInterval {
		if last.IsZero() {
			return time.Now()
		}
		return last.Add(s.Interval.Duration())
	}
	return s.At.Time()
}
