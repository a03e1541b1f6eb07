package phase

import "github.com/mcdev12/gavel/go/internal/models"

// Eligibility is what a viewer may do right now.
type Eligibility struct {
	CanRegister bool `json:"can_register"`
	CanCheckin  bool `json:"can_checkin"`
	CanBid      bool `json:"can_bid"`
}

// EligibilityFor derives eligibility from the phase and the viewer's
// participant record. A nil record means the viewer has not registered.
func EligibilityFor(p Phase, participant *models.Participant) Eligibility {
	var e Eligibility
	if participant == nil {
		e.CanRegister = p == RegistrationOpen
		return e
	}
	approved := participant.Status == models.ParticipantStatusApproved
	e.CanCheckin = p == CheckinOpen && approved
	e.CanBid = p == BiddingOpen && approved
	return e
}
