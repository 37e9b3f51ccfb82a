package pase

import (
	"bytes"
	"io"

	"github.com/larkspur-iot/chip-core/pkg/securechannel/messages"
	"github.com/larkspur-iot/chip-core/pkg/tlv"
)

// Context tags for the PASE TLV payloads (spec 4.14.1.2).
const (
	// PBKDFParamRequest
	tagReqInitiatorRandom    = 1
	tagReqInitiatorSessionID = 2
	tagReqPasscodeID         = 3
	tagReqHasPBKDFParams     = 4
	tagReqInitiatorMRPParams = 5

	// PBKDFParamResponse
	tagRespInitiatorRandom    = 1
	tagRespResponderRandom    = 2
	tagRespResponderSessionID = 3
	tagRespPBKDFParams        = 4
	tagRespResponderMRPParams = 5

	// Nested Crypto_PBKDFParameterSet
	tagParamsIterations = 1
	tagParamsSalt       = 2

	// Pake1/2/3
	tagPake1PA = 1
	tagPake2PB = 1
	tagPake2CB = 2
	tagPake3CA = 1

	// Nested SessionParameterStruct
	tagMRPIdleRetrans   = 1
	tagMRPActiveRetrans = 2
	tagMRPActiveThresh  = 4
)

// MRPParameters carries the MRP timing hints exchanged during session
// establishment. Zero means "field absent".
type MRPParameters struct {
	IdleRetransTimeout   uint32 // ms
	ActiveRetransTimeout uint32 // ms
	ActiveThreshold      uint16 // ms
}

// PBKDFParameters is the iteration count and salt the responder commits to.
type PBKDFParameters struct {
	Iterations uint32
	Salt       []byte
}

// openOuterStruct positions r inside a message's top-level anonymous
// structure.
func openOuterStruct(r *tlv.Reader) error {
	if err := r.Next(); err != nil {
		return err
	}
	if r.Type() != tlv.ElementTypeStruct {
		return ErrInvalidMessage
	}
	return r.EnterContainer()
}

// eachContextField walks the fields of the structure r is inside, calling
// fn for every context-tagged element until the end-of-container mark.
// Non-context tags are skipped.
func eachContextField(r *tlv.Reader, fn func(tagNum uint32) error) error {
	for {
		err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if r.Type() == tlv.ElementTypeEnd {
			return nil
		}
		if !r.Tag().IsContext() {
			continue
		}
		if err := fn(r.Tag().TagNumber()); err != nil {
			return err
		}
	}
}

// readRandom reads a byte string field that must be exactly RandomSize.
func readRandom(r *tlv.Reader, dst *[RandomSize]byte) error {
	b, err := r.Bytes()
	if err != nil {
		return err
	}
	if len(b) != RandomSize {
		return ErrInvalidRandom
	}
	copy(dst[:], b)
	return nil
}

// PBKDFParamRequest opens the handshake: the initiator announces its
// session id and whether it already knows the PBKDF parameters.
type PBKDFParamRequest struct {
	InitiatorRandom    [RandomSize]byte
	InitiatorSessionID uint16
	PasscodeID         uint16
	HasPBKDFParameters bool
	MRPParams          *MRPParameters
}

func (p *PBKDFParamRequest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagReqInitiatorRandom), p.InitiatorRandom[:]); err != nil {
		return nil, err
	}
	if err := messages.PutSessionID(w, tlv.ContextTag(tagReqInitiatorSessionID), p.InitiatorSessionID); err != nil {
		return nil, err
	}
	if err := messages.PutPasscodeID(w, tlv.ContextTag(tagReqPasscodeID), p.PasscodeID); err != nil {
		return nil, err
	}
	if err := w.PutBool(tlv.ContextTag(tagReqHasPBKDFParams), p.HasPBKDFParameters); err != nil {
		return nil, err
	}
	if p.MRPParams != nil {
		if err := encodeMRPParams(w, tagReqInitiatorMRPParams, p.MRPParams); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodePBKDFParamRequest(data []byte) (*PBKDFParamRequest, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := openOuterStruct(r); err != nil {
		return nil, err
	}

	p := &PBKDFParamRequest{}
	err := eachContextField(r, func(tagNum uint32) error {
		switch tagNum {
		case tagReqInitiatorRandom:
			return readRandom(r, &p.InitiatorRandom)
		case tagReqInitiatorSessionID:
			v, err := r.Uint()
			p.InitiatorSessionID = uint16(v)
			return err
		case tagReqPasscodeID:
			v, err := r.Uint()
			p.PasscodeID = uint16(v)
			return err
		case tagReqHasPBKDFParams:
			v, err := r.Bool()
			p.HasPBKDFParameters = v
			return err
		case tagReqInitiatorMRPParams:
			mrp, err := decodeMRPParams(r)
			p.MRPParams = mrp
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PBKDFParamResponse answers with the responder's session id and, unless
// the initiator already has them, the PBKDF parameters.
type PBKDFParamResponse struct {
	InitiatorRandom    [RandomSize]byte
	ResponderRandom    [RandomSize]byte
	ResponderSessionID uint16
	PBKDFParams        *PBKDFParameters
	MRPParams          *MRPParameters
}

func (p *PBKDFParamResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRespInitiatorRandom), p.InitiatorRandom[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRespResponderRandom), p.ResponderRandom[:]); err != nil {
		return nil, err
	}
	if err := messages.PutSessionID(w, tlv.ContextTag(tagRespResponderSessionID), p.ResponderSessionID); err != nil {
		return nil, err
	}
	if p.PBKDFParams != nil {
		if err := encodePBKDFParams(w, tagRespPBKDFParams, p.PBKDFParams); err != nil {
			return nil, err
		}
	}
	if p.MRPParams != nil {
		if err := encodeMRPParams(w, tagRespResponderMRPParams, p.MRPParams); err != nil {
			return nil, err
		}
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodePBKDFParamResponse(data []byte) (*PBKDFParamResponse, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := openOuterStruct(r); err != nil {
		return nil, err
	}

	p := &PBKDFParamResponse{}
	err := eachContextField(r, func(tagNum uint32) error {
		switch tagNum {
		case tagRespInitiatorRandom:
			return readRandom(r, &p.InitiatorRandom)
		case tagRespResponderRandom:
			return readRandom(r, &p.ResponderRandom)
		case tagRespResponderSessionID:
			v, err := r.Uint()
			p.ResponderSessionID = uint16(v)
			return err
		case tagRespPBKDFParams:
			params, err := decodePBKDFParams(r)
			p.PBKDFParams = params
			return err
		case tagRespResponderMRPParams:
			mrp, err := decodeMRPParams(r)
			p.MRPParams = mrp
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Pake1 carries pA, the initiator's SPAKE2+ share.
type Pake1 struct {
	PA []byte // uncompressed P-256 point
}

func (p *Pake1) Encode() ([]byte, error) {
	return encodeSingleBytesField(tagPake1PA, p.PA)
}

func DecodePake1(data []byte) (*Pake1, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := openOuterStruct(r); err != nil {
		return nil, err
	}

	p := &Pake1{}
	err := eachContextField(r, func(tagNum uint32) error {
		if tagNum == tagPake1PA {
			pa, err := r.Bytes()
			p.PA = pa
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(p.PA) == 0 {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// Pake2 carries pB and the responder's confirmation cB.
type Pake2 struct {
	PB []byte // uncompressed P-256 point
	CB []byte // 32-byte HMAC
}

func (p *Pake2) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPake2PB), p.PB); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPake2CB), p.CB); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodePake2(data []byte) (*Pake2, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := openOuterStruct(r); err != nil {
		return nil, err
	}

	p := &Pake2{}
	err := eachContextField(r, func(tagNum uint32) error {
		switch tagNum {
		case tagPake2PB:
			pb, err := r.Bytes()
			p.PB = pb
			return err
		case tagPake2CB:
			cb, err := r.Bytes()
			p.CB = cb
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(p.PB) == 0 || len(p.CB) == 0 {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// Pake3 carries the initiator's confirmation cA.
type Pake3 struct {
	CA []byte // 32-byte HMAC
}

func (p *Pake3) Encode() ([]byte, error) {
	return encodeSingleBytesField(tagPake3CA, p.CA)
}

func DecodePake3(data []byte) (*Pake3, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	if err := openOuterStruct(r); err != nil {
		return nil, err
	}

	p := &Pake3{}
	err := eachContextField(r, func(tagNum uint32) error {
		if tagNum == tagPake3CA {
			ca, err := r.Bytes()
			p.CA = ca
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(p.CA) == 0 {
		return nil, ErrInvalidMessage
	}
	return p, nil
}

// encodeSingleBytesField builds a one-field anonymous structure; Pake1 and
// Pake3 are both this shape.
func encodeSingleBytesField(tagNum uint8, value []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)

	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagNum), value); err != nil {
		return nil, err
	}
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodePBKDFParams(w *tlv.Writer, tag uint8, params *PBKDFParameters) error {
	if err := w.StartStructure(tlv.ContextTag(tag)); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(tagParamsIterations), uint64(params.Iterations)); err != nil {
		return err
	}
	if err := w.PutBytes(tlv.ContextTag(tagParamsSalt), params.Salt); err != nil {
		return err
	}
	return w.EndContainer()
}

// decodePBKDFParams decodes the nested parameter set; r must be positioned
// on its structure element.
func decodePBKDFParams(r *tlv.Reader) (*PBKDFParameters, error) {
	if r.Type() != tlv.ElementTypeStruct {
		return nil, ErrInvalidMessage
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	params := &PBKDFParameters{}
	err := eachContextField(r, func(tagNum uint32) error {
		switch tagNum {
		case tagParamsIterations:
			v, err := r.Uint()
			params.Iterations = uint32(v)
			return err
		case tagParamsSalt:
			salt, err := r.Bytes()
			params.Salt = salt
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return params, nil
}

func encodeMRPParams(w *tlv.Writer, tag uint8, params *MRPParameters) error {
	if err := w.StartStructure(tlv.ContextTag(tag)); err != nil {
		return err
	}
	if params.IdleRetransTimeout != 0 {
		if err := w.PutUint(tlv.ContextTag(tagMRPIdleRetrans), uint64(params.IdleRetransTimeout)); err != nil {
			return err
		}
	}
	if params.ActiveRetransTimeout != 0 {
		if err := w.PutUint(tlv.ContextTag(tagMRPActiveRetrans), uint64(params.ActiveRetransTimeout)); err != nil {
			return err
		}
	}
	if params.ActiveThreshold != 0 {
		if err := w.PutUint(tlv.ContextTag(tagMRPActiveThresh), uint64(params.ActiveThreshold)); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func decodeMRPParams(r *tlv.Reader) (*MRPParameters, error) {
	if r.Type() != tlv.ElementTypeStruct {
		return nil, ErrInvalidMessage
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	params := &MRPParameters{}
	err := eachContextField(r, func(tagNum uint32) error {
		switch tagNum {
		case tagMRPIdleRetrans:
			v, err := r.Uint()
			params.IdleRetransTimeout = uint32(v)
			return err
		case tagMRPActiveRetrans:
			v, err := r.Uint()
			params.ActiveRetransTimeout = uint32(v)
			return err
		case tagMRPActiveThresh:
			v, err := r.Uint()
			params.ActiveThreshold = uint16(v)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return params, nil
}
