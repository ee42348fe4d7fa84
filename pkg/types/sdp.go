package types

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// SDPType reuses pion's description type so the JSON form ("offer",
// "answer", "pranswer", "rollback") matches what browsers send.
type SDPType = webrtc.SDPType

// Description converts the payload into pion's session description.
func (p *OfferPayload) Description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: p.SDPType, SDP: p.SDP}
}

// Description converts the payload into pion's session description.
func (p *AnswerPayload) Description() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: p.SDPType, SDP: p.SDP}
}

// Init converts the payload into pion's candidate init.
func (p *CandidatePayload) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}
}

// NewOffer builds an offer payload from a pion description.
func NewOffer(desc webrtc.SessionDescription) *OfferPayload {
	return &OfferPayload{SDPType: webrtc.SDPTypeOffer, SDP: desc.SDP}
}

// NewAnswer builds an answer payload from a pion description.
func NewAnswer(desc webrtc.SessionDescription) *AnswerPayload {
	t := desc.Type
	if t != webrtc.SDPTypePranswer {
		t = webrtc.SDPTypeAnswer
	}
	return &AnswerPayload{SDPType: t, SDP: desc.SDP}
}

// NewCandidate builds a candidate payload from a pion candidate init.
func NewCandidate(init webrtc.ICECandidateInit) *CandidatePayload {
	return &CandidatePayload{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// validateDescription parses the SDP body. The relay never interprets it
// further; a parse keeps garbage from reaching peers.
func validateDescription(desc webrtc.SessionDescription) error {
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidEnvelope)
	}
	if len(desc.SDP) > MaxSDPBytes {
		return fmt.Errorf("%w: sdp exceeds %d bytes", ErrInvalidEnvelope, MaxSDPBytes)
	}
	if _, err := desc.Unmarshal(); err != nil {
		return fmt.Errorf("%w: malformed sdp: %v", ErrInvalidEnvelope, err)
	}
	return nil
}
