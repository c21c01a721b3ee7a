package rtc

import (
	"fmt"
	"slices"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// receiveOnlyKinds lists the media kinds the offerer only wants to receive.
// Those sections need a local track before an answer can send on them.
func receiveOnlyKinds(offer string) ([]webrtc.RTPCodecType, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offer)); err != nil {
		return nil, fmt.Errorf("parse offer: %w", err)
	}
	var kinds []webrtc.RTPCodecType
	for _, md := range desc.MediaDescriptions {
		kind := webrtc.NewRTPCodecType(md.MediaName.Media)
		if kind == webrtc.RTPCodecTypeUnknown {
			continue
		}
		if direction(md) == webrtc.RTPTransceiverDirectionRecvonly && !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func direction(md *sdp.MediaDescription) webrtc.RTPTransceiverDirection {
	for _, a := range md.Attributes {
		if d := webrtc.NewRTPTransceiverDirection(a.Key); d != webrtc.RTPTransceiverDirectionUnknown {
			return d
		}
	}
	return webrtc.RTPTransceiverDirectionSendrecv
}
