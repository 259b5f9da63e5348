package pionengine

import (
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

func capability(c media.Codec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func newMediaEngine(caps media.Capabilities) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability(c),
			PayloadType:        webrtc.PayloadType(c.PayloadType),
		}, webrtc.RTPCodecTypeAudio)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInternal, err, "register codec %s", c.MimeType)
		}
	}
	return m, nil
}

func iceParameters(p webrtc.ICEParameters) media.ICEParameters {
	return media.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func toICEParameters(p media.ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func iceCandidates(cs []webrtc.ICECandidate) []media.ICECandidate {
	out := make([]media.ICECandidate, 0, len(cs))
	for _, c := range cs {
		out = append(out, media.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	return out
}

func toICECandidates(cs []media.ICECandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(cs))
	for _, c := range cs {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidState, err, "candidate %s", c.Address)
		}
		typ := webrtc.ICECandidateTypeHost
		if c.Type != "" {
			if typ, err = webrtc.NewICECandidateType(c.Type); err != nil {
				return nil, errors.Wrapf(errors.ErrInvalidState, err, "candidate %s", c.Address)
			}
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
		})
	}
	return out, nil
}

func dtlsParameters(p webrtc.DTLSParameters) media.DTLSParameters {
	out := media.DTLSParameters{Role: p.Role.String()}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, media.DTLSFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return out
}

func toDTLSParameters(p media.DTLSParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: dtlsRole(p.Role)}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{
			Algorithm: fp.Algorithm,
			Value:     fp.Value,
		})
	}
	return out
}

func dtlsRole(s string) webrtc.DTLSRole {
	switch strings.ToLower(s) {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func receiveParameters(params media.Parameters) webrtc.RTPReceiveParameters {
	var pt uint8
	if len(params.Codecs) > 0 {
		pt = params.Codecs[0].PayloadType
	}
	return webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.SSRC),
				PayloadType: webrtc.PayloadType(pt),
			},
		}},
	}
}
