package telemetry

import (
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
)

func TestInfoAndErrorStampLevel(t *testing.T) {
	var captured []interface{}
	base := log.LoggerFunc(func(kv ...interface{}) error {
		captured = append(captured, kv...)
		return nil
	})

	Info(base).Log("msg", "hello")
	assert.Contains(t, stringify(captured), "info")

	captured = nil
	Error(base).Log("msg", "boom")
	assert.Contains(t, stringify(captured), "error")
}

func stringify(kv []interface{}) []string {
	out := make([]string, len(kv))
	for i, v := range kv {
		out[i] = fmt.Sprint(v)
	}
	return out
}
