// internal/compass/dto.go
package compass

import "time"

// DTOs for API requests/responses

const (
	StatusOK              = "OK"
	StatusNeedsOnboarding = "NEEDS_ONBOARDING"

	// CodeRequiresTokens is the error body for a connect without tokens
	CodeRequiresTokens = "requiresTokens"
)

type SwipeDTO struct {
	TargetID string      `json:"target_id" validate:"required,max=128"`
	Action   SwipeAction `json:"action" validate:"required,oneof=connect skip"`
}

type SeenDTO struct {
	ProfileIDs []string `json:"profile_ids" validate:"required,min=1,max=50,dive,required,max=128"`
}

type SwipeResult struct {
	RemainingTokens int  `json:"remaining_tokens"`
	Learned         bool `json:"learned"`
}

type OnboardingResult struct {
	Initialized bool `json:"initialized"`
}

type TokensResponse struct {
	Count       int       `json:"count"`
	Max         int       `json:"max"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

type DiscoverResponse struct {
	Status  string  `json:"status"`
	Matches []Match `json:"matches"`
}

type Match struct {
	Profile         RedactedProfile `json:"profile"`
	Score           float64         `json:"score"`
	DNAScore        float64         `json:"dna_score"`
	PreferenceScore float64         `json:"preference_score"`
	SharedInterests []string        `json:"shared_interests"`
	SparkTitle      string          `json:"spark_title"`
}

// RedactedProfile is the only profile shape sent to other users
type RedactedProfile struct {
	UID         string      `json:"uid"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	PhotoURL    string      `json:"photo_url"`
	Bio         string      `json:"bio"`
	DNA         RedactedDNA `json:"dna"`
}

type RedactedDNA struct {
	Archetype        Archetype        `json:"archetype,omitempty"`
	CoreInterests    []Interest       `json:"core_interests"`
	ConnectionIntent ConnectionIntent `json:"connection_intent,omitempty"`
	SocialTempo      SocialTempo      `json:"social_tempo,omitempty"`
	Languages        []string         `json:"languages"`
}

// Redact strips p down to what a viewer may see; only interests listed in
// shared survive.
func Redact(p *Profile, shared []string) RedactedProfile {
	interests := make([]Interest, 0, len(shared))
	for _, interest := range p.DNA.CoreInterests {
		if containsString(shared, NormalizeTag(interest.Tag)) {
			interests = append(interests, interest)
		}
	}

	languages := append([]string{}, p.DNA.Languages...)

	return RedactedProfile{
		UID:         p.UID,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
		Bio:         p.Bio,
		DNA: RedactedDNA{
			Archetype:        p.DNA.Archetype,
			CoreInterests:    interests,
			ConnectionIntent: p.DNA.ConnectionIntent,
			SocialTempo:      p.DNA.SocialTempo,
			Languages:        languages,
		},
	}
}

// ConnectionRequest is pushed to the target of a connect
type ConnectionRequest struct {
	FromUID     string    `json:"from_uid"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url"`
	SentAt      time.Time `json:"sent_at"`
}
