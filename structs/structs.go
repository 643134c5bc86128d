package structs

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"

	"github.com/zond/scriptai"
)

var (
	lastActorCounter uint64 = 0
	encoding                = base64.RawURLEncoding
)

const (
	actorIDLen = 16
)

// ActorID identifies an actor for its whole lifetime. The host never reuses
// an ActorID while anything still refers to it.
type ActorID string

func NextActorID() (ActorID, error) {
	actorCounter := scriptai.Increment(&lastActorCounter)
	timeSize := binary.Size(actorCounter)
	result := make([]byte, actorIDLen)
	binary.BigEndian.PutUint64(result, actorCounter)
	if _, err := rand.Read(result[timeSize:]); err != nil {
		return "", scriptai.WithStack(err)
	}
	return ActorID(encoding.EncodeToString(result)), nil
}

// Verdict is what a script answers when offered an event.
type Verdict bool

const (
	NotHandled Verdict = false
	Handled    Verdict = true
)

func (v Verdict) String() string {
	if v {
		return "handled"
	}
	return "not handled"
}

// MovementPoint is a finished movement leg, reported by the host before the
// actor's movement state is committed.
type MovementPoint struct {
	MotionType uint32
	PointID    uint32
}
