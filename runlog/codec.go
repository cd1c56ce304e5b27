package runlog

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/backfill/types"
)

// envelope is the on-wire shape of a record. The payload is decoded in a
// second pass once the kind is known.
type envelope struct {
	Kind    types.RecordKind   `msgpack:"kind"`
	Num     int64              `msgpack:"num"`
	Control types.Control      `msgpack:"control"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// EncodeRecord encodes a record as a frame payload.
func EncodeRecord(rec *types.Record) ([]byte, error) {
	env := envelope{Kind: rec.Kind, Num: rec.Num, Control: rec.Control}

	var (
		payload []byte
		err     error
	)
	switch rec.Kind {
	case types.KindRun:
		payload, err = marshalPayload(rec.Run)
	case types.KindHistory:
		payload, err = marshalPayload(rec.History)
	case types.KindFiles:
		payload, err = marshalPayload(rec.Files)
	case types.KindExit:
		payload, err = marshalPayload(rec.Exit)
	case types.KindFinal:
		payload, err = marshalPayload(rec.Final)
	default:
		payload = rec.Other
	}
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		// nil msgpack value
		payload = []byte{0xc0}
	}
	env.Payload = payload

	return msgpack.Marshal(&env)
}

func marshalPayload[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return msgpack.Marshal(v)
}

// DecodeRecord decodes a frame payload into a record.
// Unknown kinds keep their payload bytes in Record.Other.
func DecodeRecord(payload []byte) (*types.Record, error) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, decodeErr("failed to decode record envelope", err)
	}
	if env.Kind == "" {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "record has no kind"}
	}

	rec := &types.Record{Kind: env.Kind, Num: env.Num, Control: env.Control}

	var err error
	switch env.Kind {
	case types.KindRun:
		rec.Run, err = unmarshalPayload[types.RunRecord](env.Payload)
	case types.KindHistory:
		rec.History, err = unmarshalPayload[types.HistoryRecord](env.Payload)
	case types.KindFiles:
		rec.Files, err = unmarshalPayload[types.FilesRecord](env.Payload)
	case types.KindExit:
		rec.Exit, err = unmarshalPayload[types.ExitRecord](env.Payload)
	case types.KindFinal:
		rec.Final = &types.FinalRecord{}
	default:
		rec.Other = append([]byte(nil), env.Payload...)
	}
	if err != nil {
		return nil, decodeErr("failed to decode "+string(env.Kind)+" payload", err)
	}
	return rec, nil
}

func unmarshalPayload[T any](raw []byte) (*T, error) {
	v := new(T)
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeErr(msg string, err error) *FrameError {
	return &FrameError{Kind: FrameErrorDecode, Msg: msg, Err: err}
}
