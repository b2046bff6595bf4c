package compass

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Archetype string

const (
	ArchetypeCreator     Archetype = "creator"
	ArchetypeExplorer    Archetype = "explorer"
	ArchetypeOrganizer   Archetype = "organizer"
	ArchetypeParticipant Archetype = "participant"
)

type Passion string

const (
	PassionCasual     Passion = "casual"
	PassionPassionate Passion = "passionate"
	PassionPro        Passion = "pro"
)

type InterestType string

const (
	InterestInPerson InterestType = "in-person"
	InterestOnline   InterestType = "online"
)

type SocialTempo string

const (
	TempoOneOnOne   SocialTempo = "one-on-one"
	TempoSmallGroup SocialTempo = "small-group"
	TempoLargeGroup SocialTempo = "large-group"
)

type ConnectionIntent string

const (
	IntentSpontaneous ConnectionIntent = "spontaneous"
	IntentPlanned     ConnectionIntent = "planned"
	IntentBoth        ConnectionIntent = "both"
)

type SwipeAction string

const (
	ActionConnect SwipeAction = "connect"
	ActionSkip    SwipeAction = "skip"
)

// Valid reports whether a is connect or skip
func (a SwipeAction) Valid() bool {
	return a == ActionConnect || a == ActionSkip
}

type Interest struct {
	Tag     string       `json:"tag" validate:"required,max=64"`
	Passion Passion      `json:"passion" validate:"omitempty,oneof=casual passionate pro"`
	Type    InterestType `json:"type" validate:"omitempty,oneof=in-person online"`
}

// DNA is the static, self-declared part of a profile
type DNA struct {
	Archetype        Archetype        `json:"archetype,omitempty" validate:"omitempty,oneof=creator explorer organizer participant"`
	CoreInterests    []Interest       `json:"core_interests,omitempty" validate:"omitempty,max=30,dive"`
	SocialTempo      SocialTempo      `json:"social_tempo,omitempty" validate:"omitempty,oneof=one-on-one small-group large-group"`
	ConnectionIntent ConnectionIntent `json:"connection_intent,omitempty" validate:"omitempty,oneof=spontaneous planned both"`
	Languages        []string         `json:"languages,omitempty" validate:"omitempty,max=10,dive,min=2,max=16"`
}

// Scan implements the sql.Scanner interface for DNA
func (d *DNA) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// Value implements the driver.Valuer interface for DNA
func (d DNA) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// HasInterests reports whether onboarding produced at least one interest
func (d *DNA) HasInterests() bool {
	return len(d.CoreInterests) > 0
}

// InterestSet returns normalized tags mapped to their interest
func (d *DNA) InterestSet() map[string]Interest {
	set := make(map[string]Interest, len(d.CoreInterests))
	for _, interest := range d.CoreInterests {
		tag := NormalizeTag(interest.Tag)
		if tag == "" {
			continue
		}
		if _, dup := set[tag]; !dup {
			set[tag] = interest
		}
	}
	return set
}

// PrimaryInterest is the first listed interest tag, normalized
func (d *DNA) PrimaryInterest() string {
	for _, interest := range d.CoreInterests {
		if tag := NormalizeTag(interest.Tag); tag != "" {
			return tag
		}
	}
	return ""
}

// HasInterest reports whether d lists tag
func (d *DNA) HasInterest(tag string) bool {
	tag = NormalizeTag(tag)
	for _, interest := range d.CoreInterests {
		if NormalizeTag(interest.Tag) == tag {
			return true
		}
	}
	return false
}

// NormalizeTag makes tag comparison case and whitespace insensitive
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

type ConnectionTokens struct {
	Count       int       `json:"count"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Compass is the engine-owned part of a profile
type Compass struct {
	PreferenceVector    []float64        `json:"-"`
	LastLearningUpdate  time.Time        `json:"last_learning_update"`
	SeenProfileIDs      SeenRegistry     `json:"-"`
	ConnectionTokens    ConnectionTokens `json:"connection_tokens"`
	Discoverable        bool             `json:"discoverable"`
	LastActiveTimestamp time.Time        `json:"last_active"`
}

// HasPreferenceVector reports whether the learned vector can be used
func (c *Compass) HasPreferenceVector() bool {
	return len(c.PreferenceVector) >= VectorSize
}

type Profile struct {
	UID         string  `json:"uid"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	PhotoURL    string  `json:"photo_url"`
	Bio         string  `json:"bio"`
	Location    string  `json:"-"`
	DNA         DNA     `json:"dna"`
	Compass     Compass `json:"compass"`
	Version     int64   `json:"-"`
}

// LearningMetric is the best-effort journal entry written per learning step
type LearningMetric struct {
	UID       string      `db:"uid"`
	TargetID  string      `db:"target_id"`
	Action    SwipeAction `db:"action"`
	L1Delta   float64     `db:"l1_delta"`
	CreatedAt time.Time   `db:"created_at"`
}

// SwipeEvent is a "swipe logged" trigger delivered at least once
type SwipeEvent struct {
	EventID  string      `json:"event_id" validate:"required,max=128"`
	SwiperID string      `json:"swiper_id" validate:"required,max=128"`
	TargetID string      `json:"target_id" validate:"required,max=128,nefield=SwiperID"`
	Action   SwipeAction `json:"action" validate:"required,oneof=connect skip"`
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}
