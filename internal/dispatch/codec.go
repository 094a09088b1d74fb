package dispatch

import (
	wrp "github.com/xmidt-org/wrp-go/v3"
)

func encode(msg *wrp.Message) ([]byte, error) {
	var buf []byte
	encoder := wrp.NewEncoderBytes(&buf, wrp.Msgpack)
	if err := encoder.Encode(msg); err != nil {
		return nil, err
	}
	return buf, nil
}
